package scheduler

import (
	"time"

	"respbot/internal/claims"
	"respbot/internal/slots"
)

// Event types published on the bus. Payloads are the structs below.
const (
	EventClaimStarted  = "claims.started"
	EventClaimReleased = "claims.released"
	EventClaimExpired  = "claims.expired"
	EventOfferMade     = "claims.offer_made"
	EventOfferExpired  = "claims.offer_expired"
)

type ClaimStarted struct {
	Slot       slots.Slot
	HolderID   int64
	HolderName string
	Total      time.Duration
	Until      time.Time
}

type ClaimReleased struct {
	Slot       slots.Slot
	HolderID   int64
	HolderName string
	// Remaining time given up, for the audit trail.
	Remaining time.Duration
}

type ClaimExpired struct {
	Slot       slots.Slot
	HolderID   int64
	HolderName string
}

type OfferMade struct {
	Slot        slots.Slot
	OffereeID   int64
	OffereeName string
	// Desired is zero when the offeree still gets to pick a duration.
	Desired  time.Duration
	Deadline time.Time
}

type OfferExpired struct {
	Slot        slots.Slot
	OffereeID   int64
	OffereeName string
}

// SlotView is a read-only snapshot of one slot for status rendering.
// Remaining times are computed at snapshot time against Now.
type SlotView struct {
	Slot slots.Slot
	Now  time.Time

	Claim          *claims.Claim
	ClaimRemaining time.Duration

	Offer          *claims.Offer
	OfferRemaining time.Duration

	Queue []*claims.QueueEntry
}

// Free reports whether the slot can be claimed outright.
func (v SlotView) Free() bool { return v.Claim == nil && v.Offer == nil }
