package fit

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines the patience rule that ends a retrieval once
// the cost stops improving.
type ConvergenceConfig struct {
	// Enabled controls whether the patience rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Patience is the number of iterations without significant improvement
	// tolerated before stopping
	Patience int `json:"patience" yaml:"patience" validate:"gte=0"`

	// Threshold is the minimum relative improvement that counts as progress.
	// Relative improvement = (lastSignificant - cost) / lastSignificant
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0"`
}

// DefaultConvergenceConfig stops after 5 iterations below 0.1% improvement.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  5,
		Threshold: 0.001,
	}
}

// DisabledConvergenceConfig leaves stopping to the optimizer alone.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks cost history and detects when optimization has converged
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64
	lastSignificant float64 // Last cost that was a significant improvement
	staleCount      int
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the cost of the latest trace entry and reports whether
// the run should stop.
func (c *ConvergenceTracker) Update(cost float64) bool {
	c.costHistory = append(c.costHistory, cost)
	if cost < c.bestCost {
		c.bestCost = cost
	}
	if !c.config.Enabled {
		return false
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	if c.lastSignificant <= 0 {
		// Nothing left to improve on
		slog.Info("Cost reached zero - stopping early", "cost", cost)
		return true
	}

	relativeImprovement := (c.lastSignificant - cost) / c.lastSignificant
	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		slog.Debug("Cost improvement detected",
			"cost", cost,
			"relative_improvement", relativeImprovement,
		)
		return false
	}

	c.staleCount++
	slog.Debug("No significant cost improvement",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"relative_improvement", relativeImprovement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns the full cost history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of iterations without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}
