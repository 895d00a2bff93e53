// Package vision parses vision command flags and runs capture analysis.
package vision

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	entrypoint "github.com/emirkarahan/sensorbridge/internal/platform/cmd"
	"github.com/emirkarahan/sensorbridge/internal/platform/timeouts"
	"github.com/emirkarahan/sensorbridge/internal/vision"
)

// Config holds vision command configuration. Positional arguments select
// specific images; without them every capture in the data directory is
// analyzed.
type Config struct {
	APIKey  string `env:"SENSORBRIDGE_OPENAI_API_KEY"`
	BaseURL string `env:"SENSORBRIDGE_OPENAI_BASE_URL"`
	Model   string `env:"SENSORBRIDGE_VISION_MODEL" envDefault:"gpt-4o"`
	DataDir string `env:"SENSORBRIDGE_DATA_DIR"     envDefault:"sensor_data"`

	Images []string
}

// analysisRecord is the JSON document written next to each analyzed capture.
type analysisRecord struct {
	ImageFile   string `json:"image_file"`
	Model       string `json:"model"`
	Description string `json:"description"`
	AnalyzedAt  string `json:"analyzed_at"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "vision endpoint API key")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "vision endpoint base URL")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "vision model name")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding capture artifacts")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Images = fs.Args()
	return cfg, nil
}

// Run analyzes the selected captures and writes an analysis document next to
// each image.
func Run(ctx context.Context, cfg Config) error {
	client, err := vision.NewClient(vision.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return fmt.Errorf("init vision client: %w", err)
	}

	images := cfg.Images
	if len(images) == 0 {
		images, err = captureImages(cfg.DataDir)
		if err != nil {
			return err
		}
	}
	if len(images) == 0 {
		return fmt.Errorf("no capture images to analyze")
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceVision, func(ctx context.Context) error {
		failures := 0
		for _, imagePath := range images {
			if err := analyzeOne(ctx, client, imagePath); err != nil {
				log.Printf("analyze %s: %v", imagePath, err)
				failures++
			}
		}
		if failures == len(images) {
			return fmt.Errorf("all %d analyses failed", failures)
		}
		if failures > 0 {
			log.Printf("%d of %d analyses failed", failures, len(images))
		}
		return nil
	})
}

func analyzeOne(ctx context.Context, client *vision.Client, imagePath string) error {
	analyzeCtx, cancel := context.WithTimeout(ctx, timeouts.VisionRequest)
	defer cancel()

	analysis, err := client.Analyze(analyzeCtx, imagePath)
	if err != nil {
		return err
	}

	record := analysisRecord{
		ImageFile:   filepath.Base(imagePath),
		Model:       analysis.Model,
		Description: analysis.Description,
		AnalyzedAt:  analysis.AnalyzedAt,
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	outPath := analysisPath(imagePath)
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	log.Printf("analyzed %s -> %s", filepath.Base(imagePath), filepath.Base(outPath))
	return nil
}

// analysisPath derives the analysis document path from the image path, e.g.
// capture_20260314_092653.jpg -> capture_20260314_092653_analysis.json.
func analysisPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + "_analysis.json"
}

func captureImages(dataDir string) ([]string, error) {
	var images []string
	for _, pattern := range []string{"capture_*.jpg", "capture_*.png"} {
		matches, err := filepath.Glob(filepath.Join(dataDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan data directory: %w", err)
		}
		images = append(images, matches...)
	}
	return images, nil
}
