// Package storage persists the scheduler snapshot and the audit trail.
//
// Two drivers share one Store interface: a plain-file backend (atomic JSON
// snapshot plus a JSON Lines audit log) and a SQLite backend. Boot refuses
// to proceed on a corrupt or unsupported snapshot; an absent one is a normal
// first start.
package storage
