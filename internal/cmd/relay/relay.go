// Package relay parses relay command flags and composes transport entrypoints.
package relay

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/emirkarahan/sensorbridge/internal/platform/cmd"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
	server "github.com/emirkarahan/sensorbridge/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr string `env:"SENSORBRIDGE_RELAY_HTTP_ADDR" envDefault:":8443"`
	DataDir  string `env:"SENSORBRIDGE_DATA_DIR"        envDefault:"sensor_data"`
	DBPath   string `env:"SENSORBRIDGE_DB_PATH"`
	Envelope string `env:"SENSORBRIDGE_ENVELOPE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for capture artifacts")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite capture index path (empty disables indexing)")
	fs.StringVar(&cfg.Envelope, "envelope", cfg.Envelope, "capture envelope as x=center:tolerance,y=...,z=... (empty uses the calibrated default)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	envelope := sensor.DefaultEnvelope()
	if cfg.Envelope != "" {
		parsed, err := sensor.ParseEnvelope(cfg.Envelope)
		if err != nil {
			return fmt.Errorf("parse envelope: %w", err)
		}
		envelope = parsed
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr: cfg.HTTPAddr,
			DataDir:  cfg.DataDir,
			DBPath:   cfg.DBPath,
			Envelope: envelope,
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
