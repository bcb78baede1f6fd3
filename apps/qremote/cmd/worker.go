package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quatton/qremote/pkg/qapi/config"
	"github.com/quatton/qremote/pkg/qapi/services"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume job tasks from the broker",
	Long: `Runs only the worker pool. Requires BROKER_BACKEND=redis so that tasks
submitted by the API process reach this one.`,
	RunE: worker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func worker(cmd *cobra.Command, args []string) error {
	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}
	if cfg.BrokerBackend != config.BackendRedis {
		return fmt.Errorf("worker needs BROKER_BACKEND=%s, got %q", config.BackendRedis, cfg.BrokerBackend)
	}
	cfg.Print(log.Printf)

	logger := newLogger(cfg.LogLevel, cfg.LogFormat).Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := services.NewServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svcs.Close()

	logger.Info("👷 worker started", "concurrency", cfg.WorkerConcurrency)
	if err := svcs.Pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
