package reconcile

import "errors"

// Engine errors that can be checked with errors.Is()
var (
	// ErrInvalidFieldState is returned when description is edited on a
	// record that is not (or would not end up) reserved
	ErrInvalidFieldState = errors.New("invalid field state")

	// ErrInvalidTransition is returned for a manual status change the
	// ledger state machine does not permit
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAddressQuarantined is returned when a device report claims an
	// address an operator has quarantined. The claim is rejected, never
	// silently applied over the quarantine.
	ErrAddressQuarantined = errors.New("address is quarantined")

	// ErrConflictRetryExhausted is returned when concurrent writers
	// contend on the same row beyond the single bounded retry
	ErrConflictRetryExhausted = errors.New("conflict retry exhausted")
)
