package sngan_go

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration Fatal configuration problem: unknown network variant, bad variable naming, replica count mismatch and etc.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariantViolation Fatal violation of a construction invariant (e.g. gradient sets of different devices do not line up)
	ErrInvariantViolation = errors.New("invariant violation")
)

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

func invariantErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}

// IsConfigurationError Checks if root cause of error is ErrConfiguration
func IsConfigurationError(err error) bool {
	return errors.Cause(err) == ErrConfiguration
}

// IsInvariantViolation Checks if root cause of error is ErrInvariantViolation
func IsInvariantViolation(err error) bool {
	return errors.Cause(err) == ErrInvariantViolation
}
