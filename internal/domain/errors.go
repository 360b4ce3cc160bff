package domain

import (
	"errors"
	"fmt"
)

// Validation errors for event construction and queue operations
var (
	ErrMissingEventID   = errors.New("event id is required")
	ErrInvalidOrigin    = errors.New("invalid origin system")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrMissingMaterial  = errors.New("material id is required")
	ErrInvalidQuantity  = errors.New("invalid quantity")

	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrLeaseMismatch     = errors.New("lease token does not match")
	ErrEntryNotLeased    = errors.New("queue entry is not leased")
	ErrEntryNotTerminal  = errors.New("queue entry is not in a terminal state")
	ErrVarianceNotFound  = errors.New("variance record not found")
	ErrVarianceResolved  = errors.New("variance record already resolved")
	ErrInvalidResolution = errors.New("invalid variance resolution")
	ErrRunNotFound       = errors.New("reconciliation run not found")
	ErrMappingNotFound   = errors.New("no location mapping for aggregate location")
	ErrMappingConflict   = errors.New("bin location claimed by multiple mappings")
	ErrInvalidMapping    = errors.New("invalid location mapping")
	ErrUnknownMaterial   = errors.New("material unknown to target ledger")
)

// TransientError marks a failure that is expected to clear on its own:
// timeouts, temporary unavailability, lock contention on the target ledger.
// The applier retries these with backoff up to the attempt bound.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a structural failure that retrying cannot fix: unknown
// material, malformed event, target ledger rejecting the update outright.
// The applier dead-letters these immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is classified as a transient failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as a permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsConfiguration reports whether err is a configuration problem (a missing
// or conflicting mapping for an active location). Affected entries stay
// pending rather than dead-lettering, since operators are expected to fix the
// mapping and let the queue drain.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrMappingNotFound) || errors.Is(err, ErrMappingConflict)
}
