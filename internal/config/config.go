// Package config loads retrieval run files.
//
// A run file is YAML merged over embedded defaults, then validated field by
// field and against the optical geometry.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/opt"
	"github.com/cwbudde/mtfphase/internal/optics"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is a complete run description.
type Config struct {
	Optics      OpticsConfig      `yaml:"optics"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Cost        CostConfig        `yaml:"cost"`
	Convergence ConvergenceConfig `yaml:"convergence"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Truth       TruthConfig       `yaml:"truth"`
	Store       StoreConfig       `yaml:"store"`
}

// OpticsConfig is the lens and sampling geometry.
type OpticsConfig struct {
	EFL          float64   `yaml:"efl" validate:"gt=0"`
	FNumber      float64   `yaml:"fno" validate:"gt=0"`
	Wavelength   float64   `yaml:"wavelength" validate:"gt=0"` // µm
	FocusPlanes  int       `yaml:"focus_planes" validate:"gte=1"`
	FocusRange   float64   `yaml:"focus_range" validate:"gte=0"` // mm
	FocusOffsets []float64 `yaml:"focus_offsets,omitempty"`
	Frequencies  []float64 `yaml:"frequencies" validate:"min=2,dive,gt=0"`
	PupilSamples int       `yaml:"pupil_samples" validate:"gte=4"`
	RMSNorm      bool      `yaml:"rms_norm"`
}

// RetrievalConfig selects the model and the optimizer.
type RetrievalConfig struct {
	Ring          string        `yaml:"ring" validate:"oneof=w1 w2 w3 custom"`
	Modes         []string      `yaml:"modes,omitempty" validate:"required_if=Ring custom,dive,fringe"`
	AxisMode      string        `yaml:"axis_mode" validate:"oneof=axis ts full 2d"`
	Optimizer     string        `yaml:"optimizer" validate:"oneof=lbfgs mayfly"`
	MaxIterations int           `yaml:"max_iterations" validate:"gte=1"`
	Tolerance     float64       `yaml:"tolerance" validate:"gte=0"`
	Bound         float64       `yaml:"bound" validate:"gte=0"` // |coefficient| limit in waves, 0 = unbounded
	Workers       int           `yaml:"workers" validate:"gte=0"`
	Seed          int64         `yaml:"seed"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

// CostConfig is the cost chain.
type CostConfig struct {
	Modifiers  []string `yaml:"modifiers" validate:"dive,oneof=diffraction-divide"`
	Reduce     string   `yaml:"reduce" validate:"oneof=sum-squares manhattan"`
	ExcludeLow int      `yaml:"exclude_low" validate:"gte=0"`
}

// ConvergenceConfig is the patience rule.
type ConvergenceConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Patience  int     `yaml:"patience" validate:"gte=0"`
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
}

// SimulationConfig holds the wavefront used to synthesize truth when no
// measurement is given, keyed by mode name.
type SimulationConfig struct {
	Coefficients map[string]float64 `yaml:"coefficients" validate:"dive,keys,fringe,endkeys"`
}

// UnmarshalYAML replaces the coefficient map when the run file sets one,
// so defaults are not merged into it.
func (s *SimulationConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain SimulationConfig
	p := plain(*s)
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "coefficients" {
				p.Coefficients = nil
			}
		}
	}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = SimulationConfig(p)
	return nil
}

// TruthConfig points at measured data.
type TruthConfig struct {
	CSV string `yaml:"csv,omitempty"`
}

// StoreConfig locates result records.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("fringe", func(fl validator.FieldLevel) bool {
		_, err := optics.ParseFringeName(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML onto cfg; only fields present in data change.
func Parse(data []byte, cfg *Config) error {
	// Unmarshal into same struct - only overwrites fields present in file
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks field constraints and the derived optical geometry.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return optics.NewConfigError(strings.TrimPrefix(fe.Namespace(), "Config."), "failed %q constraint (value %v)", fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validating config: %w", err)
	}
	if err := c.OpticsConfig().Validate(); err != nil {
		return err
	}
	ring, err := c.DecoderRing()
	if err != nil {
		return err
	}
	if _, err := c.SimulationCoefficients(ring); err != nil {
		return err
	}
	if c.Cost.ExcludeLow >= len(c.Optics.Frequencies) {
		return optics.NewConfigError("cost.exclude_low", "%d leaves no frequencies out of %d", c.Cost.ExcludeLow, len(c.Optics.Frequencies))
	}
	return nil
}

// OpticsConfig converts to the engine geometry.
func (c *Config) OpticsConfig() optics.Config {
	o := c.Optics
	return optics.Config{
		EFL:          o.EFL,
		FNumber:      o.FNumber,
		Wavelength:   o.Wavelength,
		FocusPlanes:  o.FocusPlanes,
		FocusRange:   o.FocusRange,
		FocusOffsets: append([]float64(nil), o.FocusOffsets...),
		Frequencies:  append([]float64(nil), o.Frequencies...),
		PupilSamples: o.PupilSamples,
		RMSNorm:      o.RMSNorm,
	}
}

// SetGeometry stores measured focus offsets and frequencies.
func (c *Config) SetGeometry(g optics.Config) {
	c.Optics.FocusPlanes = g.FocusPlanes
	c.Optics.FocusOffsets = append([]float64(nil), g.FocusOffsets...)
	c.Optics.Frequencies = append([]float64(nil), g.Frequencies...)
}

// DecoderRing resolves the configured ring.
func (c *Config) DecoderRing() (optics.DecoderRing, error) {
	if c.Retrieval.Ring == "custom" {
		return optics.NewDecoderRing(c.Retrieval.Modes...)
	}
	return optics.RingByName(c.Retrieval.Ring)
}

// AxisMode resolves the configured sampling mode.
func (c *Config) AxisMode() (optics.AxisMode, error) {
	return optics.ParseAxisMode(c.Retrieval.AxisMode)
}

// CostOptions converts to the evaluator cost chain.
func (c *Config) CostOptions() fit.CostOptions {
	return fit.CostOptions{
		Modifiers:  append([]string(nil), c.Cost.Modifiers...),
		Reduce:     c.Cost.Reduce,
		ExcludeLow: c.Cost.ExcludeLow,
	}
}

// ConvergenceConfig converts to the driver patience rule.
func (c *Config) ConvergenceConfig() fit.ConvergenceConfig {
	return fit.ConvergenceConfig{
		Enabled:   c.Convergence.Enabled,
		Patience:  c.Convergence.Patience,
		Threshold: c.Convergence.Threshold,
	}
}

// Bounds returns symmetric coefficient bounds, or nil when unbounded.
func (c *Config) Bounds(dim int) *opt.Bounds {
	if c.Retrieval.Bound == 0 {
		return nil
	}
	return opt.NewBounds(dim, -c.Retrieval.Bound, c.Retrieval.Bound)
}

// Optimizer builds the configured optimizer.
func (c *Config) Optimizer() (opt.Optimizer, error) {
	return opt.New(c.Retrieval.Optimizer, c.Retrieval.Seed)
}

// SimulationCoefficients lays the simulation map out in ring order. Every
// named mode must belong to the ring.
func (c *Config) SimulationCoefficients(ring optics.DecoderRing) ([]float64, error) {
	coeffs := make([]float64, ring.Len())
	index := make(map[int]int, ring.Len())
	for i := 0; i < ring.Len(); i++ {
		index[ring.Fringe(i)] = i
	}
	for name, v := range c.Simulation.Coefficients {
		j, err := optics.ParseFringeName(name)
		if err != nil {
			return nil, optics.NewConfigError("simulation.coefficients", "%v", err)
		}
		i, ok := index[j]
		if !ok {
			return nil, optics.NewConfigError("simulation.coefficients", "mode %s is not in the decoder ring", name)
		}
		coeffs[i] = v
	}
	return coeffs, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
