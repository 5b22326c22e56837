package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/store"
)

var (
	catalogPath     string
	catalogAccuracy float64
	minimaLimit     int
	cleanAbove      float64
	forceCleanMin   bool
)

var minimaCmd = &cobra.Command{
	Use:   "minima",
	Short: "Inspect the minima catalogue",
	Long:  `List and prune the minima catalogued in a SQLite database by hop and refine.`,
}

var listMinimaCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued minima by energy",
	RunE:  runListMinima,
}

var cleanMinimaCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete minima above an energy cutoff",
	Long: `Delete catalogued minima whose energy lies above --above. Transition states
that reference a deleted minimum keep their own record.`,
	RunE: runCleanMinima,
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "List catalogued transition states",
	RunE:  runListTransitions,
}

func init() {
	rootCmd.AddCommand(minimaCmd)
	rootCmd.AddCommand(transitionsCmd)
	minimaCmd.AddCommand(listMinimaCmd)
	minimaCmd.AddCommand(cleanMinimaCmd)

	for _, c := range []*cobra.Command{minimaCmd, transitionsCmd} {
		c.PersistentFlags().StringVar(&catalogPath, "db", "landscape.db", "SQLite database path")
		c.PersistentFlags().Float64Var(&catalogAccuracy, "accuracy", 1e-6, "Energy accuracy for distinguishing minima")
	}

	listMinimaCmd.Flags().IntVar(&minimaLimit, "limit", 20, "Show at most N minima (0 = all)")
	cleanMinimaCmd.Flags().Float64Var(&cleanAbove, "above", 0, "Energy cutoff (required)")
	cleanMinimaCmd.Flags().BoolVarP(&forceCleanMin, "force", "f", false, "Skip confirmation prompt")
	cleanMinimaCmd.MarkFlagRequired("above")
}

func openCatalog() (*store.Database, error) {
	if _, err := os.Stat(catalogPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", catalogPath, err)
	}
	db, err := store.OpenDatabase(catalogPath, catalogAccuracy)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func runListMinima(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	minima, err := db.Minima(minimaLimit)
	if err != nil {
		return fmt.Errorf("failed to list minima: %w", err)
	}
	total, err := db.CountMinima()
	if err != nil {
		return fmt.Errorf("failed to count minima: %w", err)
	}

	out := cmd.OutOrStdout()
	printMinima(out, minima)
	fmt.Fprintf(out, "\nShowing %d of %d minima.\n", len(minima), total)
	return nil
}

func runCleanMinima(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	all, err := db.Minima(0)
	if err != nil {
		return fmt.Errorf("failed to list minima: %w", err)
	}
	var doomed int
	for _, m := range all {
		if m.Energy > cleanAbove {
			doomed++
		}
	}
	if doomed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No minima above the cutoff.")
		return nil
	}

	// Ask for confirmation unless --force is set
	prompt := fmt.Sprintf("Delete %d of %d minima above %g? [y/N]: ", doomed, len(all), cleanAbove)
	if !forceCleanMin && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	deleted, err := db.DeleteMinimaAbove(cleanAbove)
	if err != nil {
		return fmt.Errorf("failed to delete minima: %w", err)
	}
	slog.Info("Deleted minima", "count", deleted, "above", cleanAbove)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d minima.\n", deleted)
	return nil
}

func runListTransitions(cmd *cobra.Command, args []string) error {
	db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	states, err := db.TransitionStates()
	if err != nil {
		return fmt.Errorf("failed to list transition states: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(states) == 0 {
		fmt.Fprintln(out, "No transition states found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENERGY\tEIGENVALUE\tCONNECTS")
	fmt.Fprintln(w, "--\t------\t----------\t--------")
	for _, ts := range states {
		connects := "-"
		if ts.Minimum1 != nil && ts.Minimum2 != nil {
			connects = fmt.Sprintf("%d <-> %d", *ts.Minimum1, *ts.Minimum2)
		}
		fmt.Fprintf(w, "%d\t%.8f\t%.6g\t%s\n", ts.ID, ts.Energy, ts.Eigenvalue, connects)
	}
	w.Flush()
	return nil
}
