package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/store"
)

// hopKeep is the number of lowest minima reported by hop
const hopKeep = 10

var (
	hopFlags       runFlags
	hopOutPath     string
	hopMetricsAddr string
)

var hopCmd = &cobra.Command{
	Use:   "hop",
	Short: "Search for low-lying minima by basin hopping",
	Long: `Runs one or more basin hopping walkers from random starting structures and
reports the lowest distinct minima found. Minima are added to --db when given.`,
	RunE: runHop,
}

func init() {
	hopFlags.register(hopCmd)
	hopCmd.Flags().StringVar(&hopOutPath, "out", "", "Write the lowest minima as JSON to this file")
	hopCmd.Flags().StringVar(&hopMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	rootCmd.AddCommand(hopCmd)
}

func runHop(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd, &hopFlags)
	if err != nil {
		return err
	}

	res, err := openResources(cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	if hopMetricsAddr != "" {
		stop := serveMetrics(hopMetricsAddr)
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	saveN := store.NewSaveN(hopKeep, cfg.Storage.Accuracy)
	var sink store.Inserter = saveN
	if res.database != nil {
		sink = store.MultiSink{saveN, res.database}
	}

	jobID := uuid.New().String()
	slog.Info("Starting basin hopping",
		"job_id", jobID,
		"system", cfg.System.Name,
		"natoms", cfg.System.NAtoms,
		"steps", cfg.BasinHopping.Steps,
		"walkers", cfg.BasinHopping.Walkers,
	)

	start := time.Now()
	results, runErr := explore.RunWalkers(ctx, cfg, jobID, explore.Options{
		Sink:        sink,
		Checkpoints: res.checkpoints,
		Metrics:     metrics.Default(),
		Logger:      slog.Default().With("job_id", jobID),
	})
	elapsed := time.Since(start)

	minima := saveN.Minima()
	printMinima(cmd.OutOrStdout(), minima)
	if best, ok := explore.Best(results); ok {
		slog.Info("Basin hopping finished",
			"job_id", jobID,
			"elapsed", elapsed,
			"lowest_energy", best.LowestEnergy,
			"walker", best.Walker,
		)
	}

	if hopOutPath != "" {
		if err := writeJSONFile(hopOutPath, minima); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d minima to %s\n", len(minima), hopOutPath)
	}

	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(cmd.OutOrStdout(), "Interrupted; resume walkers with: landscape resume %s\n", jobID)
		return nil
	}
	return runErr
}

// printMinima writes minima as a table
func printMinima(out io.Writer, minima []store.Minimum) {
	if len(minima) == 0 {
		fmt.Fprintln(out, "No minima found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tENERGY")
	fmt.Fprintln(w, "----\t--\t------")
	for i, m := range minima {
		id := "-"
		if m.ID > 0 {
			id = fmt.Sprint(m.ID)
		}
		fmt.Fprintf(w, "%d\t%s\t%.8f\n", i+1, id, m.Energy)
	}
	w.Flush()
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// serveMetrics exposes the default registry until the returned function is called
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
