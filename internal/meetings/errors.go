package meetings

import "errors"

var (
	// ErrNotFound is returned when no meeting exists for the code.
	ErrNotFound = errors.New("meeting not found")
	// ErrWrongStatus is returned when the meeting's status does not permit
	// the requested transition.
	ErrWrongStatus = errors.New("meeting status does not permit this operation")
	// ErrValidation is returned for malformed input, before any state change.
	ErrValidation = errors.New("validation error")
)

// Stable denial reasons surfaced to callers. Client UIs branch on these, so
// the strings are part of the contract.
const (
	ReasonNotFound      = "not found"
	ReasonExpired       = "expired"
	ReasonCompleted     = "completed"
	ReasonCancelled     = "cancelled"
	ReasonFull          = "full"
	ReasonAuthFailed    = "authentication failed"
	ReasonInvalidFormat = "invalid format"
)
