package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free snapshot + jsonl backend (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is the persisted scheduler snapshot. It is written atomically after
// every state change and read back once at boot. Only absolute instants are
// stored; remaining times are recomputed against the wall clock on load.
//
// Version guards the schema. Unknown versions fail the load so a rollback
// never silently misreads newer state.
type State struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"saved_at"`
	Slots   []SlotState `json:"slots"`
}

const StateVersion = 1

type SlotState struct {
	Code  string            `json:"code"`
	Name  string            `json:"name"`
	Tier  int               `json:"tier"`
	Claim *ClaimState       `json:"claim,omitempty"`
	Offer *OfferState       `json:"offer,omitempty"`
	Queue []QueueEntryState `json:"queue,omitempty"`
}

type ClaimState struct {
	HolderID     int64     `json:"holder_id"`
	HolderName   string    `json:"holder_name"`
	TotalSeconds int64     `json:"total_seconds"`
	StartedAt    time.Time `json:"started_at"`
}

type OfferState struct {
	OffereeID      int64     `json:"offeree_id"`
	OffereeName    string    `json:"offeree_name"`
	DesiredSeconds int64     `json:"desired_seconds,omitempty"`
	OfferedAt      time.Time `json:"offered_at"`
}

type QueueEntryState struct {
	RequesterID    int64     `json:"requester_id"`
	RequesterName  string    `json:"requester_name"`
	DesiredSeconds int64     `json:"desired_seconds,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// AuditEntry records one scheduler transition for the append-only trail.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	Action    string    `json:"action"`
	Slot      string    `json:"slot"`
	ActorID   int64     `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
