// Package errors provides the error vocabulary shared by the bridge.
//
// Sentinel errors cover generic domain conditions (not found, conflict) and
// are checked with errors.Is. BridgeError carries the failure taxonomy of the
// enrichment pipeline: schema fetch, suggestion unavailability, apply
// failures and configuration problems.
//
// Usage:
//
//	import bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
//
//	if bberrors.IsNotFound(err) {
//	    // metadata instance does not exist yet
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the resource was modified or created concurrently.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates the upstream rejected our token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPreconditionFailed indicates a JSON-patch test operation did not hold.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsPreconditionFailed reports whether any error in err's chain is ErrPreconditionFailed.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
