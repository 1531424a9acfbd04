package optics

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a setup-time mismatch between configuration, truth data,
	// sampling, or coefficient vectors. It is never recoverable.
	ErrConfig = errors.New("configuration mismatch")
	// ErrNonFinite is returned when propagation produces NaN or Inf values.
	ErrNonFinite = errors.New("non-finite value in propagation")
)

// ConfigError describes which part of the setup is inconsistent.
// Use errors.Is(err, ErrConfig) to check for it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration mismatch: " + e.Reason
	}
	return "configuration mismatch: " + e.Field + ": " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NewConfigError builds a ConfigError for callers outside this package.
func NewConfigError(field, format string, args ...any) error {
	return configErrorf(field, format, args...)
}
