// Package auditchain maintains an append-only, hash-linked ledger of
// financial state changes and verifies its integrity. Each entry's hash
// covers the previous entry's hash and the canonical encoding of its own
// payload, so editing any historical record breaks every later link.
package auditchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GenesisHash seeds the chain before the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	ErrIntegrity        = errors.New("audit chain integrity violation")
	ErrSequenceConflict = errors.New("audit sequence conflict")
	ErrEntryNotFound    = errors.New("audit entry not found")
	ErrInvalidPayload   = errors.New("invalid audit payload")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Payload is the recorded state change. Before and After hold the entity
// snapshots around the transition; either may be null.
type Payload struct {
	Actor      string          `json:"actor"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

func (payload Payload) validate() error {
	if payload.Actor == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidPayload)
	}
	if payload.EntityKind == "" || payload.EntityID == "" {
		return fmt.Errorf("%w: entity reference is required", ErrInvalidPayload)
	}
	if payload.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidPayload)
	}
	return nil
}

// Entry is one immutable link in the chain. Sequence is assigned by the
// store and strictly monotonic from 1. RecordedAt is informational and not
// covered by the hash.
type Entry struct {
	Sequence   int64
	Payload    Payload
	PrevHash   string
	Hash       string
	RecordedAt time.Time
}

// Store is the persistence contract for the chain. Entries are never updated
// or deleted.
type Store interface {
	// Head returns the highest-sequence entry, if any.
	Head(ctx context.Context) (Entry, bool, error)
	// Insert persists an entry; a duplicate sequence is reported as
	// ErrSequenceConflict so the appender can re-read the head and retry.
	Insert(ctx context.Context, entry Entry) (Entry, error)
	// GetEntry returns the entry with the exact sequence.
	GetEntry(ctx context.Context, sequence int64) (Entry, bool, error)
	// ListFrom streams entries with sequence >= from in ascending order.
	ListFrom(ctx context.Context, from int64, limit int) ([]Entry, error)
	// SequenceBounds maps a recorded-at window onto the first and last
	// sequence inside it. ok is false when no entry falls in the window.
	SequenceBounds(ctx context.Context, start time.Time, end time.Time) (first int64, last int64, ok bool, err error)
}
