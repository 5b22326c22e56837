package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/system"
)

var (
	refineFlags      runFlags
	refineCoords     []float64
	refineCoordsFile string
	refineEigvec     []float64
	refineTol        float64
	refineMaxIter    int
	refineGradPar    bool
	refineNoConnect  bool
	refineOutPath    string
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a guess onto a transition state",
	Long: `Converges a guess onto a first-order saddle point by following the lowest
curvature mode uphill and minimizing in the tangent space. With --db a successful
refinement is catalogued together with the two minima it connects.`,
	RunE: runRefine,
}

func init() {
	refineFlags.register(refineCmd)
	fs := refineCmd.Flags()
	fs.Float64SliceVar(&refineCoords, "coords", nil, "Guess coordinates, comma separated")
	fs.StringVar(&refineCoordsFile, "coords-file", "", "JSON file holding the guess coordinates as an array")
	fs.Float64SliceVar(&refineEigvec, "eigenvector", nil, "Initial lowest-mode guess, comma separated")
	fs.Float64Var(&refineTol, "tol", 0, "RMS gradient tolerance (0 = config value)")
	fs.IntVar(&refineMaxIter, "max-iter", 0, "Maximum iterations (0 = config value)")
	fs.BoolVar(&refineGradPar, "gradpar", false, "Use the parallel gradient to size tangent minimizations")
	fs.BoolVar(&refineNoConnect, "no-connect", false, "Do not quench off the transition state to find its minima")
	fs.StringVar(&refineOutPath, "out", "", "Write the refinement result as JSON to this file")
	refineCmd.MarkFlagsMutuallyExclusive("coords", "coords-file")
	rootCmd.AddCommand(refineCmd)
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd, &refineFlags)
	if err != nil {
		return err
	}
	if refineTol > 0 {
		cfg.Refine.Tol = refineTol
	}
	if refineMaxIter > 0 {
		cfg.Refine.MaxIter = refineMaxIter
	}
	if cmd.Flags().Changed("gradpar") {
		cfg.Refine.UseGradPar = refineGradPar
	}

	guess, err := readGuess(refineCoords, refineCoordsFile)
	if err != nil {
		return err
	}

	sys, err := system.New(cfg.System.Name, cfg.System.NAtoms)
	if err != nil {
		return err
	}

	res, err := openResources(cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := explore.Refine(ctx, cfg, sys, guess, refineEigvec, explore.RefineOptions{
		Database: res.database,
		Connect:  res.database != nil && !refineNoConnect,
		Metrics:  metrics.Default(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:      %s\n", result.State)
	fmt.Fprintf(out, "Success:    %t\n", result.Success)
	fmt.Fprintf(out, "Energy:     %.8f\n", result.Energy)
	fmt.Fprintf(out, "Eigenvalue: %.6g\n", result.Eigenvalue)
	fmt.Fprintf(out, "RMS:        %.3g\n", result.RMS)
	fmt.Fprintf(out, "Iterations: %d (%d evaluations)\n", result.NIter, result.NFev)
	for _, msg := range result.Messages {
		fmt.Fprintf(out, "  %s\n", msg)
	}
	if result.TransitionState != nil {
		fmt.Fprintf(out, "Catalogued transition state %d\n", result.TransitionState.ID)
	}
	for _, m := range result.Minima {
		fmt.Fprintf(out, "Connected minimum %d (energy %.8f)\n", m.ID, m.Energy)
	}

	if refineOutPath != "" {
		if err := writeJSONFile(refineOutPath, result); err != nil {
			return err
		}
	}
	if !result.Success {
		return fmt.Errorf("refinement did not converge to a transition state")
	}
	return nil
}

// readGuess returns the coordinates given on the command line or in a JSON file
func readGuess(coords []float64, path string) ([]float64, error) {
	if path == "" {
		if len(coords) == 0 {
			return nil, fmt.Errorf("either --coords or --coords-file is required")
		}
		return coords, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guess: %w", err)
	}
	var guess []float64
	if err := json.Unmarshal(data, &guess); err != nil {
		return nil, fmt.Errorf("failed to parse guess %s: %w", path, err)
	}
	return guess, nil
}
