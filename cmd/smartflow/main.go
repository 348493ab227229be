package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/smartflow/smartflow/internal/config"
	"github.com/smartflow/smartflow/internal/logger"
	"github.com/smartflow/smartflow/internal/receipt"
	"github.com/smartflow/smartflow/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const appName = "smartflow"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Parse(appName, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", config.Usage(appName))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return
	}

	log := logger.New(cfg.LogLevel).With().Str("service", appName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", version).
		Str("project", cfg.GoogleCloudProject).
		Bool("processing", cfg.EnableProcessing).
		Msg("Starting Smart Flow API")

	service := receipt.NewDemoService(log)

	if cfg.EnableProcessing {
		log.Info().Msg("Initializing database...")
		db, err := receipt.OpenDB(cfg.DatabaseURL, cfg.LogLevel == "debug")
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.AutoMigrate {
			log.Info().Msg("Migrating database schema...")
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}

		store, closeStore, err := newStorage(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()

		detector, err := newDetector(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer detector.Close()

		service = receipt.NewService(db, detector, store, cfg.DefaultUserEmail, log)
	}

	server := receipt.NewServer(service, log)
	return server.Run(ctx, cfg.Addr())
}

// newStorage builds the configured image store and a function that releases it
func newStorage(ctx context.Context, cfg config.Config, log zerolog.Logger) (receipt.Storage, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageGCS:
		log.Info().Str("bucket", cfg.StorageBucketName).Msg("Initializing Cloud Storage...")
		store, err := receipt.NewGCSStorage(ctx, cfg.StorageBucketName, cfg.GoogleClientOptions()...)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gcs storage: %w", err)
		}
		return store, func() { store.Close() }, nil

	case config.StorageS3:
		log.Info().Str("endpoint", cfg.S3Endpoint).Str("bucket", cfg.StorageBucketName).Msg("Initializing S3 storage...")
		store, err := receipt.NewS3Storage(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.StorageBucketName, cfg.S3UseSSL)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing s3 storage: %w", err)
		}
		return store, func() {}, nil

	case config.StorageBolt:
		log.Info().Str("path", cfg.BoltPath).Msg("Initializing blob store...")
		store, err := receipt.NewBoltStorage(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing bolt storage: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("invalid storage backend %q", cfg.StorageBackend)
}

// newDetector builds the configured text detection engine
func newDetector(ctx context.Context, cfg config.Config, log zerolog.Logger) (scanning.TextDetector, error) {
	switch cfg.OCREngine {
	case config.OCRVision:
		log.Info().Msg("Initializing Cloud Vision...")
		detector, err := scanning.NewVision(ctx, cfg.GoogleClientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("initializing vision: %w", err)
		}
		return detector, nil

	case config.OCRGemini:
		log.Info().Str("model", cfg.GeminiModel).Msg("Initializing Gemini...")
		detector, err := scanning.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return detector, nil

	case config.OCROllama:
		log.Info().Str("url", cfg.OllamaURL).Str("model", cfg.OllamaModel).Msg("Initializing Ollama...")
		return scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel), nil
	}
	return nil, fmt.Errorf("invalid ocr engine %q", cfg.OCREngine)
}
