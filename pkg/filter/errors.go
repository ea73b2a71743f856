package filter

import "github.com/pkg/errors"

var (
	// ErrNotResponding is returned when the load cell produced no valid reading in time.
	ErrNotResponding = errors.New("load cell not responding")
	// ErrInvalidSample marks a NaN, infinite or implausible raw reading.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrInvalidParameter is returned by setters for out-of-range values.
	ErrInvalidParameter = errors.New("invalid parameter")
)
