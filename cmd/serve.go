package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/server"
)

var (
	serveFlags runFlags
	serveAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Serves the job API. Hop and refine jobs are submitted to /api/v1/jobs and
run in the background; progress streams over SSE and /metrics exposes Prometheus
metrics. The run flags set the defaults that job requests are decoded over.`,
	RunE: runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd, &serveFlags)
	if err != nil {
		return err
	}

	res, err := openResources(cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	srv := server.NewServer(serveAddr, cfg, server.Resources{
		Checkpoints: res.checkpoints,
		Database:    res.database,
		Metrics:     metrics.Default(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
