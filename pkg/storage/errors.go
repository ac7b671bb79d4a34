package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across the backend contract. The protocol
// handler maps them to wire status codes.
var (
	// ErrRangeMismatch reports an Append whose offset does not equal the
	// staged byte count. Maps to 308 with the current Range.
	ErrRangeMismatch = errors.New("chunk offset does not match staged bytes")

	// ErrOverflow reports an Append that would exceed the declared total.
	ErrOverflow = errors.New("chunk exceeds declared upload size")

	// ErrTransient marks a backend failure worth one internal retry
	// (network hiccup, throttling). Surfaced as 500 when the retry fails.
	ErrTransient = errors.New("transient backend failure")

	// ErrPermanent marks a backend failure that will not succeed on
	// retry. The session moves to Aborted and the client must restart.
	ErrPermanent = errors.New("permanent backend failure")
)

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
