package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qremote/pkg/db"
	"github.com/quatton/qremote/pkg/qlog"
)

func main() {
	rollback := flag.Bool("rollback", false, "Revert the last applied migration group")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("ℹ No .env file found")
	} else {
		log.Println("✓ Loaded .env file")
	}

	ctx := context.Background()
	logger := qlog.NewFromLevel(os.Getenv("LOG_LEVEL"), qlog.FormatText).Logger

	var cfg db.Config
	if err := envconfig.Process("DB", &cfg); err != nil {
		log.Fatalf("failed to process env vars: %v", err)
	}

	database, err := db.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if *rollback {
		logger.Info("Rolling back last migration group...")
		if err := db.Rollback(ctx, database, logger); err != nil {
			log.Fatalf("failed to rollback: %v", err)
		}
		return
	}

	logger.Info("Running migrations...")
	if err := db.Migrate(ctx, database, logger); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	logger.Info("Migrations completed successfully.")
}
