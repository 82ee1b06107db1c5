// Package claims holds the scheduler's domain model: active claims, per-slot
// FIFO queues and pending handoff offers, plus the typed error taxonomy the
// operations report through.
//
// Nothing here locks. The Store is owned by exactly one scheduler instance,
// which serializes all access behind its own mutex.
package claims

import "time"

// Claim is an active hold on a slot. Remaining time is always derived from
// wall clock against StartedAt, never from a stored countdown, so restarts
// and missed ticks cannot stretch a claim.
type Claim struct {
	Slot       string
	HolderID   int64
	HolderName string
	Total      time.Duration
	StartedAt  time.Time
}

// Remaining returns how much claim time is left at now, floored at zero.
func (c *Claim) Remaining(now time.Time) time.Duration {
	rem := c.Total - now.Sub(c.StartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the claim has run out at now.
func (c *Claim) Expired(now time.Time) bool { return c.Remaining(now) == 0 }

// QueueEntry is a waiting requester for a slot. Desired is zero when the
// requester did not pick a duration at enqueue time; in that case the choice
// is deferred until the offer is accepted.
type QueueEntry struct {
	Slot          string
	RequesterID   int64
	RequesterName string
	Desired       time.Duration
	EnqueuedAt    time.Time
}

// Offer is a pending handoff: the slot is reserved for the offeree until they
// claim it or the offer window lapses. The window length is scheduler config,
// so only the absolute OfferedAt is stored and the deadline is recomputed
// from it.
type Offer struct {
	Slot        string
	OffereeID   int64
	OffereeName string
	Desired     time.Duration
	OfferedAt   time.Time
}

// Deadline returns the instant the offer lapses for the given window.
func (o *Offer) Deadline(window time.Duration) time.Time {
	return o.OfferedAt.Add(window)
}

// Remaining returns how long the offeree still has at now, floored at zero.
func (o *Offer) Remaining(now time.Time, window time.Duration) time.Duration {
	rem := o.Deadline(window).Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the offer window has lapsed at now.
func (o *Offer) Expired(now time.Time, window time.Duration) bool {
	return o.Remaining(now, window) == 0
}
