package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/retrieval"
	"github.com/cwbudde/mtfphase/internal/store"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

var (
	truthPath     string
	optimizerName string
	ringName      string
	axisMode      string
	iters         int
	workers       int
	seed          int64
	timeout       time.Duration
	outPath       string
	noSave        bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve the wavefront from through-focus MTF",
	Long: `Fits Zernike coefficients to through-focus MTF truth, read from a CSV
file or simulated from the run file's coefficients, and stores the result
record and cost trace under the data directory.`,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&truthPath, "truth", "", "Truth CSV (field,focus,freq,azimuth,mtf); simulated when empty")
	retrieveCmd.Flags().StringVar(&optimizerName, "optimizer", "", "Optimizer: lbfgs, mayfly")
	retrieveCmd.Flags().StringVar(&ringName, "ring", "", "Decoder ring: w1, w2, w3")
	retrieveCmd.Flags().StringVar(&axisMode, "axis-mode", "", "MTF sampling: axis, full")
	retrieveCmd.Flags().IntVar(&iters, "iters", 0, "Max optimizer iterations")
	retrieveCmd.Flags().IntVar(&workers, "workers", 0, "Plane workers (0 = inline)")
	retrieveCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for stochastic optimizers")
	retrieveCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the retrieval after this long (0 = no limit)")
	retrieveCmd.Flags().StringVarP(&outPath, "out", "o", "", "Also write the result record to this JSON file")
	retrieveCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the result under the data directory")

	rootCmd.AddCommand(retrieveCmd)
}

// applyRetrieveFlags overrides run file settings with the flags that were set.
func applyRetrieveFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("truth") {
		cfg.Truth.CSV = truthPath
	}
	if f.Changed("optimizer") {
		cfg.Retrieval.Optimizer = optimizerName
	}
	if f.Changed("ring") {
		cfg.Retrieval.Ring = ringName
	}
	if f.Changed("axis-mode") {
		cfg.Retrieval.AxisMode = axisMode
	}
	if f.Changed("iters") {
		cfg.Retrieval.MaxIterations = iters
	}
	if f.Changed("workers") {
		cfg.Retrieval.Workers = workers
	}
	if f.Changed("seed") {
		cfg.Retrieval.Seed = seed
	}
	if f.Changed("timeout") {
		cfg.Retrieval.Timeout = timeout
	}
	return cfg.Validate()
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRetrieveFlags(cmd, cfg); err != nil {
		return err
	}

	metrics := telemetry.New()
	session, err := retrieval.NewSession(cfg, metrics)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, runErr := session.Run(ctx, nil)

	slog.Info("Metrics summary", metrics.Summary()...)

	if result == nil || len(result.Trace) == 0 {
		return runErr
	}

	runID := store.NewRunID()
	record := store.NewRecord(runID, session.RunConfig(configPath), result, runErr)
	if err := saveRecord(cfg, record); err != nil {
		return errors.Join(runErr, err)
	}
	if outPath != "" {
		if err := writeRecordJSON(outPath, record); err != nil {
			return errors.Join(runErr, err)
		}
	}

	printResult(runID, result)
	return runErr
}

func saveRecord(cfg *config.Config, record *store.Record) error {
	if noSave {
		return nil
	}
	resultStore, err := store.NewFSStore(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	return retrieval.Save(resultStore, record)
}

func writeRecordJSON(path string, record *store.Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func printResult(runID string, res *fit.Result) {
	fmt.Printf("Run %s: %s, cost %.6g -> %.6g in %d iterations (%s)\n",
		runID, res.Optimizer, res.InitialCost, res.FinalCost, res.Iterations, res.Status)

	for i, name := range res.Ring.Names() {
		if i < len(res.Final) {
			fmt.Printf("  %-4s %+.6f waves\n", name, res.Final[i])
		}
	}
	if n := len(res.ResidualRMS); n > 0 {
		fmt.Printf("Residual RMS: %.6f waves\n", res.ResidualRMS[n-1])
	}
}
