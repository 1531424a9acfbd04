package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/optics"
)

// loadConfig reads the run file and the flags shared by every command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Store.DataDir = dataDir
	}
	return cfg, nil
}

// parseCoefficients turns name=value pairs into coefficients keyed by mode.
func parseCoefficients(pairs map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for name, raw := range pairs {
		if _, err := optics.ParseFringeName(name); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("coefficient %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
