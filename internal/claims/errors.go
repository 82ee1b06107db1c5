package claims

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind enumerates the expected, recoverable outcomes of scheduler
// operations. These are domain results, not crashes: every public operation
// returns a tagged *Error so the presentation layer can render an actionable
// message without re-querying the scheduler.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindUnknownSlot   ErrorKind = "unknown_slot"
	KindSlotOccupied  ErrorKind = "slot_occupied"
	KindNotHolder     ErrorKind = "not_holder"
	KindAlreadyQueued ErrorKind = "already_queued"
	KindAlreadyHolder ErrorKind = "already_holder"
	KindQueueFull     ErrorKind = "queue_full"
	KindSlotFree      ErrorKind = "slot_free"
	KindNotQueued     ErrorKind = "not_queued"
	KindWrongOfferee  ErrorKind = "wrong_offeree"
)

// Error carries the error kind plus enough context (slot code, involved names,
// remaining time) for user-facing rendering.
type Error struct {
	Kind   ErrorKind
	Slot   string
	Detail string

	// Who is in the way, when relevant.
	HolderName  string
	OffereeName string

	// Remaining claim/offer time, when relevant.
	Remaining time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Slot != "" && e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Slot, e.Detail)
	}
	if e.Slot != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Slot)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// KindOf extracts the domain error kind, if err is (or wraps) a *Error.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, k ErrorKind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func newValidation(slot, detail string) *Error {
	return &Error{Kind: KindValidation, Slot: slot, Detail: detail}
}

// NewValidation builds a validation error. Exported for the duration policy,
// which lives outside this package but shares the taxonomy.
func NewValidation(slot, detail string) *Error { return newValidation(slot, detail) }
