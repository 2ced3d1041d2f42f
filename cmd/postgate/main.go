// Package main implements the postgate server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/app"
	"github.com/postgate/postgate/internal/config"
	"github.com/postgate/postgate/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		dataDir     string
		httpAddr    string
		provider    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for analytics, cache and exports")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&provider, "provider", "", "Backend provider: openai_compatible, gemini, mock")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "postgate - turn documents into social media posts\n\n")
		fmt.Fprintf(os.Stderr, "Usage: postgate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENROUTER_API_KEY         Key for the openai_compatible provider\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY             Key for the gemini provider\n")
		fmt.Fprintf(os.Stderr, "  POSTGATE_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  POSTGATE_STORAGE_TYPE      Analytics storage (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  POSTGATE_PII_POLICY        PII policy (baseline, enhanced)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("postgate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if provider != "" {
		cfg.Backend.Provider = provider
	}

	logger := logging.New(cfg.Logging, os.Stderr).With().Str("service", "postgate").Logger()
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.HTTP.Addr).
		Str("provider", cfg.Backend.Provider).
		Msg("starting")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("postgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, app.Options{Version: version}, logger)
	if err != nil {
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}
	return application.Wait(ctx)
}

// loadConfig layers the dotenv file, the config file and the environment.
func loadConfig(configFile, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
