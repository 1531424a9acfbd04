package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mtfphase/internal/server"
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

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(serverURL, "/")
	if len(args) == 0 {
		var jobs []server.Job
		if err := getJSON(base+"/api/v1/jobs", &jobs); err != nil {
			return err
		}
		printJobs(os.Stdout, jobs)
		return nil
	}

	var status jobStatus
	if err := getJSON(fmt.Sprintf("%s/api/v1/jobs/%s/status", base, args[0]), &status); err != nil {
		return err
	}
	printJobStatus(os.Stdout, &status)
	return nil
}

type jobStatus struct {
	server.Job
	Elapsed float64 `json:"elapsed"`
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
		return fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJobs(w io.Writer, jobs []server.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tRING\tOPTIMIZER\tITERS\tCOST")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.6g\n",
			shortID(job.ID), job.State, job.Config.Ring, job.Config.Optimizer, job.Iterations, job.Cost)
	}
	tw.Flush()
}

func printJobStatus(w io.Writer, status *jobStatus) {
	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Truth: %s\n", status.Config.Truth)
	fmt.Fprintf(w, "  Ring: %s\n", status.Config.Ring)
	fmt.Fprintf(w, "  Optimizer: %s\n", status.Config.Optimizer)
	fmt.Fprintf(w, "  Axis mode: %s\n", status.Config.AxisMode)
	fmt.Fprintf(w, "  Max iterations: %d\n", status.Config.MaxIterations)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	if status.InitialCost > 0 {
		fmt.Fprintf(w, "  Initial Cost: %.6g\n", status.InitialCost)
		fmt.Fprintf(w, "  Cost: %.6g (%.1f%% of initial)\n", status.Cost, 100*status.Cost/status.InitialCost)
	}
	if status.ResidualRMS != nil {
		fmt.Fprintf(w, "  Residual RMS: %.4f waves\n", *status.ResidualRMS)
	}
	if status.Status != "" {
		fmt.Fprintf(w, "  Status: %s (converged %v)\n", status.Status, status.Converged)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Stored {
		fmt.Fprintf(w, "\nStored as run %s\n", status.ID)
	}
	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}
}
