package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/mtfdata"
)

var (
	simOutPath string
	simCoeffs  map[string]string
	simRing    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write simulated through-focus MTF truth to CSV",
	Long: `Propagates a known wavefront through the configured focus planes and
writes the tangential and sagittal MTF as a truth CSV that retrieve can read.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simOutPath, "out", "o", "", "Output CSV path (required)")
	simulateCmd.Flags().StringToStringVar(&simCoeffs, "coeff", nil, "Wavefront coefficients in waves, e.g. Z9=0.1,Z4=-0.02 (replaces simulation.coefficients)")
	simulateCmd.Flags().StringVar(&simRing, "ring", "", "Decoder ring: w1, w2, w3")

	simulateCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("ring") {
		cfg.Retrieval.Ring = simRing
	}
	if cmd.Flags().Changed("coeff") {
		coeffs, err := parseCoefficients(simCoeffs)
		if err != nil {
			return err
		}
		cfg.Simulation.Coefficients = coeffs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ring, err := cfg.DecoderRing()
	if err != nil {
		return err
	}
	mode, err := cfg.AxisMode()
	if err != nil {
		return err
	}
	coeffs, err := cfg.SimulationCoefficients(ring)
	if err != nil {
		return err
	}

	geom := cfg.OpticsConfig()
	truth, defocus, err := fit.SimulateTruth(geom, ring, coeffs, mode)
	if err != nil {
		return err
	}
	rows, err := mtfdata.FromTruth(defocus.Offsets(), geom.Frequencies, truth)
	if err != nil {
		return err
	}
	if err := mtfdata.WriteFile(simOutPath, rows); err != nil {
		return err
	}

	slog.Info("Simulated truth written",
		"path", simOutPath,
		"planes", defocus.Len(),
		"frequencies", len(geom.Frequencies),
		"rows", len(rows),
	)
	fmt.Printf("Wrote %s (%d planes x %d frequencies)\n", simOutPath, defocus.Len(), len(geom.Frequencies))
	return nil
}
