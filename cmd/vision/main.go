// Package main runs vision analysis over persisted capture images.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	visioncmd "github.com/emirkarahan/sensorbridge/internal/cmd/vision"
	"github.com/emirkarahan/sensorbridge/internal/platform/config"
)

func main() {
	cfg, err := visioncmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[VISION] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := visioncmd.Run(ctx, cfg); err != nil {
		config.Exitf("analyze captures: %v", err)
	}
}
