package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobSummary is the part of a job listing that status prints
type jobSummary struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	State        string  `json:"state"`
	StepNum      int     `json:"stepnum"`
	NAccepted    int     `json:"naccepted"`
	LowestEnergy float64 `json:"lowestEnergy"`
	Error        string  `json:"error"`
	Config       struct {
		System struct {
			Name   string `json:"name"`
			NAtoms int    `json:"natoms"`
		} `json:"system"`
	} `json:"config"`
}

// jobStatus is the response of /api/v1/jobs/:id/status
type jobStatus struct {
	jobSummary
	Elapsed        float64 `json:"elapsed"`
	StepsPerSecond float64 `json:"stepsPerSecond"`
	Refinement     *struct {
		State      string  `json:"state"`
		Success    bool    `json:"success"`
		Eigenvalue float64 `json:"eigenvalue"`
		RMS        float64 `json:"rms"`
	} `json:"refinement"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		// List all jobs
		var jobs []jobSummary
		if err := getJSON(fmt.Sprintf("%s/api/v1/jobs", serverURL), &jobs); err != nil {
			return err
		}
		printJobs(out, jobs)
		return nil
	}

	// Get specific job status
	jobID := args[0]
	var status jobStatus
	if err := getJSON(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), &status); err != nil {
		return err
	}
	printJobStatus(out, status)
	return nil
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", url)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJobs(out io.Writer, jobs []jobSummary) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  Kind: %s\n", job.Kind)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  System: %s (%d atoms)\n", job.Config.System.Name, job.Config.System.NAtoms)
		if job.StepNum > 0 {
			fmt.Fprintf(out, "  Steps: %d, lowest energy %.6f\n", job.StepNum, job.LowestEnergy)
		}
		fmt.Fprintln(out)
	}
}

func printJobStatus(out io.Writer, status jobStatus) {
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "Kind: %s\n", status.Kind)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintf(out, "System: %s (%d atoms)\n", status.Config.System.Name, status.Config.System.NAtoms)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Steps: %d (%d accepted)\n", status.StepNum, status.NAccepted)
	fmt.Fprintf(out, "  Lowest Energy: %.8f\n", status.LowestEnergy)
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.StepsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.1f steps/sec\n", status.StepsPerSecond)
	}

	if r := status.Refinement; r != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Refinement:")
		fmt.Fprintf(out, "  State: %s (success: %t)\n", r.State, r.Success)
		fmt.Fprintf(out, "  Eigenvalue: %.6g\n", r.Eigenvalue)
		fmt.Fprintf(out, "  RMS: %.3g\n", r.RMS)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
}
