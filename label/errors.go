package label

import (
	"errors"
	"fmt"
)

var (
	// ErrContract marks a caller bug: a stale or foreign context, a
	// discarded input index, an unknown transition type. Violations panic.
	ErrContract = errors.New("label: usage contract violation")

	// ErrConfig marks an invalid construction-time configuration.
	ErrConfig = errors.New("label: invalid configuration")
)

// contractf panics with an error wrapping ErrContract.
func contractf(format string, args ...any) {
	panic(fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...)))
}

// Contractf is contractf for strategies living outside this package.
func Contractf(format string, args ...any) {
	contractf(format, args...)
}

// Configf returns an error wrapping ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
