package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quatton/qremote/pkg/qapi"
	"github.com/quatton/qremote/pkg/qapi/config"
	"github.com/quatton/qremote/pkg/qapi/services"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var serveNoWorker bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Run the HTTP API together with an in-process worker pool",
	Long: `Starts the job API, the log websocket and /metrics. Unless --no-worker is
given, the same process also consumes job tasks from the broker.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Only serve the API; leave tasks to separate worker processes")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
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

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           qapi.NewServer(svcs, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("🚀 qremote listening", "addr", srv.Addr)
		logger.Info("📚 OpenAPI docs", "url", cfg.BaseURL+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if !serveNoWorker {
		g.Go(func() error {
			return svcs.Pool.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
