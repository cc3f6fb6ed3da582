package transform

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrConfiguration is returned when a transform cannot be constructed or
	// rebound with the given arguments.
	ErrConfiguration = errors.New("invalid transform configuration")

	// ErrUnsupported is returned for operations a transform does not implement,
	// such as the inverse of a free-form deformation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrPrecondition is returned when a transform is used in a state that
	// construction-time checks should have ruled out.
	ErrPrecondition = errors.New("precondition violated")

	// ErrNotLinear is returned when a matrix is requested from a non-linear transform.
	ErrNotLinear = fmt.Errorf("%w: transform is not linear", ErrUnsupported)

	// ErrNotUpdated is returned when derived buffers are read before Update.
	ErrNotUpdated = fmt.Errorf("%w: buffers not computed, call Update first", ErrPrecondition)
)

// ConfigError describes an invalid construction argument.
type ConfigError struct {
	Op      string // Operation (e.g., "NewFreeFormDeformation")
	Field   string // Offending argument (e.g., "stride")
	Details string // What is wrong with it
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Field, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Details)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold for every ConfigError.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(op, field, format string, args ...any) error {
	return &ConfigError{Op: op, Field: field, Details: fmt.Sprintf(format, args...)}
}
