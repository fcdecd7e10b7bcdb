// Package pgstore persists the hash-chained audit trail with raw pgx on
// PostgreSQL. Production deployments keep the audit chain on the managed
// database; sqlite deployments use gormstore for the chain as well.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
)

const (
	pgUniqueViolationCode = "23505"

	sqlSelectHead = `
		select sequence, actor, entity_kind, entity_id, action,
			coalesce(before::text,''), coalesce(after::text,''),
			prev_hash, hash, recorded_at
		from audit_entries
		order by sequence desc
		limit 1
	`

	sqlInsertEntry = `
		insert into audit_entries(
			entry_id, sequence, actor, entity_kind, entity_id, action,
			before, after, prev_hash, hash, recorded_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5,
			nullif($6,'')::jsonb, nullif($7,'')::jsonb, $8, $9, $10
		)
	`

	sqlSelectBySequence = `
		select sequence, actor, entity_kind, entity_id, action,
			coalesce(before::text,''), coalesce(after::text,''),
			prev_hash, hash, recorded_at
		from audit_entries
		where sequence = $1
	`

	sqlListFromSequence = `
		select sequence, actor, entity_kind, entity_id, action,
			coalesce(before::text,''), coalesce(after::text,''),
			prev_hash, hash, recorded_at
		from audit_entries
		where sequence >= $1
		order by sequence asc
		limit $2
	`

	sqlSequenceBounds = `
		select min(sequence), max(sequence)
		from audit_entries
		where recorded_at >= $1 and recorded_at < $2
	`
)

// Store implements auditchain.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Head returns the highest-sequence audit entry.
func (store *Store) Head(ctx context.Context) (auditchain.Entry, bool, error) {
	entry, err := scanEntry(store.pool.QueryRow(ctx, sqlSelectHead))
	if errors.Is(err, pgx.ErrNoRows) {
		return auditchain.Entry{}, false, nil
	}
	if err != nil {
		return auditchain.Entry{}, false, err
	}
	return entry, true, nil
}

// Insert appends one audit entry. A duplicate sequence surfaces as
// auditchain.ErrSequenceConflict so the appender can retry on a fresh head.
func (store *Store) Insert(ctx context.Context, entry auditchain.Entry) (auditchain.Entry, error) {
	_, err := store.pool.Exec(ctx, sqlInsertEntry,
		entry.Sequence,
		entry.Payload.Actor,
		entry.Payload.EntityKind,
		entry.Payload.EntityID,
		entry.Payload.Action,
		string(entry.Payload.Before),
		string(entry.Payload.After),
		entry.PrevHash,
		entry.Hash,
		entry.RecordedAt,
	)
	if isSequenceConflict(err) {
		return auditchain.Entry{}, auditchain.ErrSequenceConflict
	}
	if err != nil {
		return auditchain.Entry{}, err
	}
	return entry, nil
}

// GetEntry returns the entry with the exact sequence.
func (store *Store) GetEntry(ctx context.Context, sequence int64) (auditchain.Entry, bool, error) {
	entry, err := scanEntry(store.pool.QueryRow(ctx, sqlSelectBySequence, sequence))
	if errors.Is(err, pgx.ErrNoRows) {
		return auditchain.Entry{}, false, nil
	}
	if err != nil {
		return auditchain.Entry{}, false, err
	}
	return entry, true, nil
}

// ListFrom streams entries with sequence >= from in ascending order.
func (store *Store) ListFrom(ctx context.Context, from int64, limit int) ([]auditchain.Entry, error) {
	rows, err := store.pool.Query(ctx, sqlListFromSequence, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]auditchain.Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SequenceBounds maps a recorded-at window onto the first and last sequence
// numbers recorded inside it.
func (store *Store) SequenceBounds(ctx context.Context, start time.Time, end time.Time) (int64, int64, bool, error) {
	var first, last *int64
	err := store.pool.QueryRow(ctx, sqlSequenceBounds, start, end).Scan(&first, &last)
	if err != nil {
		return 0, 0, false, err
	}
	if first == nil || last == nil {
		return 0, 0, false, nil
	}
	return *first, *last, true, nil
}

func scanEntry(row pgx.Row) (auditchain.Entry, error) {
	var (
		entry       auditchain.Entry
		beforeValue string
		afterValue  string
	)
	err := row.Scan(
		&entry.Sequence,
		&entry.Payload.Actor,
		&entry.Payload.EntityKind,
		&entry.Payload.EntityID,
		&entry.Payload.Action,
		&beforeValue,
		&afterValue,
		&entry.PrevHash,
		&entry.Hash,
		&entry.RecordedAt,
	)
	if err != nil {
		return auditchain.Entry{}, err
	}
	if beforeValue != "" {
		entry.Payload.Before = json.RawMessage(beforeValue)
	}
	if afterValue != "" {
		entry.Payload.After = json.RawMessage(afterValue)
	}
	return entry, nil
}

func isSequenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
