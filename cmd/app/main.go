package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/di"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load(*envFile)

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log = log.With(logger.String("env", cfg.Environment))

	app, err := di.InitializeApp(cfg, log)
	if err != nil {
		log.Error("app initialization failed", logger.Error(err))
		os.Exit(1)
	}

	log.Info("trading core starting",
		logger.String("bus", cfg.Bus.Type),
		logger.String("portfolio_store", cfg.Portfolio.Store),
		logger.Bool("audit", cfg.ClickHouse.Enabled),
		logger.Int("strategies", len(cfg.Trading.Strategy.Instances)),
	)

	if err := app.Run(); err != nil {
		log.Error("app exited with error", logger.Error(err))
		os.Exit(1)
	}
}
