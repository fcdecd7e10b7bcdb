package auditchain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultVerifyBatchSize = 500

// VerifyOptions bounds a verification pass. Zero values verify the whole
// chain in default-sized batches.
type VerifyOptions struct {
	// FromSequence is the first sequence to check (defaults to 1).
	FromSequence int64
	// ToSequence is the last sequence to check (0 = chain head).
	ToSequence int64
	BatchSize  int
}

// InvalidEntry references the first link that failed verification.
type InvalidEntry struct {
	Sequence     int64
	StoredHash   string
	ExpectedHash string
	Reason       string
}

// Report is the outcome of a verification pass.
//
// A valid report is evidence of non-tampering since the last successful
// checkpoint. It is not proof against an operator with write access who can
// recompute every downstream hash; treat it as tamper detection, not
// prevention.
type Report struct {
	IsValid      bool
	TotalChecked int64
	FirstInvalid *InvalidEntry
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Verifier walks the chain and recomputes every link. Read-only: it never
// mutates entries, and it may run concurrently with appends because it reads
// committed entries in ascending order.
type Verifier struct {
	store Store
	nowFn func() time.Time
}

// NewVerifier wires a Verifier.
func NewVerifier(store Store, now func() time.Time) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("auditchain: store dependency is nil")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Verifier{store: store, nowFn: now}, nil
}

// WindowBySequence translates a recorded-at window into verify options.
func (verifier *Verifier) WindowBySequence(ctx context.Context, start time.Time, end time.Time) (VerifyOptions, bool, error) {
	first, last, ok, err := verifier.store.SequenceBounds(ctx, start, end)
	if err != nil || !ok {
		return VerifyOptions{}, false, err
	}
	return VerifyOptions{FromSequence: first, ToSequence: last}, true, nil
}

// VerifyChain streams entries in ascending sequence order and recomputes each
// hash from the running previous hash. The first mismatch, sequence gap, or
// unreadable payload stops the pass and is reported as the invalid entry.
func (verifier *Verifier) VerifyChain(ctx context.Context, options VerifyOptions) (Report, error) {
	report := Report{IsValid: true, StartedAt: verifier.nowFn().UTC()}
	batchSize := options.BatchSize
	if batchSize == 0 {
		batchSize = defaultVerifyBatchSize
	}
	if batchSize < 0 {
		return Report{}, fmt.Errorf("%w: %d", ErrInvalidBatchSize, options.BatchSize)
	}
	from := options.FromSequence
	if from <= 0 {
		from = 1
	}

	runningPrevHash := GenesisHash
	if from > 1 {
		predecessor, exists, err := verifier.store.GetEntry(ctx, from-1)
		if err != nil {
			return Report{}, err
		}
		if !exists {
			report.fail(from-1, "", "", "missing predecessor entry")
			report.FinishedAt = verifier.nowFn().UTC()
			return report, nil
		}
		runningPrevHash = predecessor.Hash
	}

	expectedSequence := from
	for {
		entries, err := verifier.store.ListFrom(ctx, expectedSequence, batchSize)
		if err != nil {
			return Report{}, err
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if options.ToSequence > 0 && entry.Sequence > options.ToSequence {
				report.FinishedAt = verifier.nowFn().UTC()
				return report, nil
			}
			if entry.Sequence != expectedSequence {
				report.fail(expectedSequence, "", "", fmt.Sprintf("sequence gap: expected %d, found %d", expectedSequence, entry.Sequence))
				report.FinishedAt = verifier.nowFn().UTC()
				return report, nil
			}
			if entry.PrevHash != runningPrevHash {
				report.fail(entry.Sequence, entry.Hash, "", "previous-hash link broken")
				report.FinishedAt = verifier.nowFn().UTC()
				return report, nil
			}
			canonical, err := CanonicalPayload(entry.Payload)
			if err != nil {
				report.fail(entry.Sequence, entry.Hash, "", "unreadable payload")
				report.FinishedAt = verifier.nowFn().UTC()
				return report, nil
			}
			expectedHash := ChainHash(runningPrevHash, canonical)
			if expectedHash != entry.Hash {
				report.fail(entry.Sequence, entry.Hash, expectedHash, "hash mismatch")
				report.FinishedAt = verifier.nowFn().UTC()
				return report, nil
			}
			runningPrevHash = entry.Hash
			expectedSequence++
			report.TotalChecked++
		}
		if options.ToSequence > 0 && expectedSequence > options.ToSequence {
			break
		}
		if len(entries) < batchSize {
			break
		}
	}

	report.FinishedAt = verifier.nowFn().UTC()
	return report, nil
}

func (report *Report) fail(sequence int64, storedHash string, expectedHash string, reason string) {
	report.IsValid = false
	report.FirstInvalid = &InvalidEntry{
		Sequence:     sequence,
		StoredHash:   storedHash,
		ExpectedHash: expectedHash,
		Reason:       reason,
	}
}

// Err surfaces an invalid report as an integrity error for alerting paths.
func (report Report) Err() error {
	if report.IsValid {
		return nil
	}
	return fmt.Errorf("%w: first invalid entry at sequence %d (%s)", ErrIntegrity, report.FirstInvalid.Sequence, report.FirstInvalid.Reason)
}
