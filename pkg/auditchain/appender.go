package auditchain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const appendRetryLimit = 5

// Appender writes new links onto the chain. Safe for concurrent use: a lost
// race on the head sequence is retried against the fresh head.
type Appender struct {
	store Store
	nowFn func() time.Time
}

// NewAppender wires an Appender.
func NewAppender(store Store, now func() time.Time) (*Appender, error) {
	if store == nil {
		return nil, errors.New("auditchain: store dependency is nil")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Appender{store: store, nowFn: now}, nil
}

// Append computes the next link from the current head and persists it,
// returning the stored entry with its assigned sequence and hash.
func (appender *Appender) Append(ctx context.Context, payload Payload) (Entry, error) {
	canonical, err := CanonicalPayload(payload)
	if err != nil {
		return Entry{}, err
	}
	for attempt := 0; attempt < appendRetryLimit; attempt++ {
		head, exists, err := appender.store.Head(ctx)
		if err != nil {
			return Entry{}, err
		}
		prevHash := GenesisHash
		sequence := int64(1)
		if exists {
			prevHash = head.Hash
			sequence = head.Sequence + 1
		}
		entry := Entry{
			Sequence:   sequence,
			Payload:    payload,
			PrevHash:   prevHash,
			Hash:       ChainHash(prevHash, canonical),
			RecordedAt: appender.nowFn().UTC(),
		}
		stored, err := appender.store.Insert(ctx, entry)
		if errors.Is(err, ErrSequenceConflict) {
			continue
		}
		if err != nil {
			return Entry{}, err
		}
		return stored, nil
	}
	return Entry{}, fmt.Errorf("%w: append contention exhausted %d attempts", ErrSequenceConflict, appendRetryLimit)
}
