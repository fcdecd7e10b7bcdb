package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
)

// Head returns the highest-sequence audit entry.
func (store *Store) Head(ctx context.Context) (auditchain.Entry, bool, error) {
	var model AuditEntry
	err := store.db.WithContext(ctx).Order("sequence DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auditchain.Entry{}, false, nil
	}
	if err != nil {
		return auditchain.Entry{}, false, err
	}
	return mapAuditEntry(model), true, nil
}

// Insert appends one audit entry. A duplicate sequence surfaces as
// auditchain.ErrSequenceConflict so the appender can retry on a fresh head.
func (store *Store) Insert(ctx context.Context, entry auditchain.Entry) (auditchain.Entry, error) {
	model := AuditEntry{
		Sequence:   entry.Sequence,
		Actor:      entry.Payload.Actor,
		EntityKind: entry.Payload.EntityKind,
		EntityID:   entry.Payload.EntityID,
		Action:     entry.Payload.Action,
		Before:     datatypes.JSON(entry.Payload.Before),
		After:      datatypes.JSON(entry.Payload.After),
		PrevHash:   entry.PrevHash,
		Hash:       entry.Hash,
		RecordedAt: entry.RecordedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return auditchain.Entry{}, auditchain.ErrSequenceConflict
	}
	if err != nil {
		return auditchain.Entry{}, err
	}
	return mapAuditEntry(model), nil
}

// GetEntry returns the entry with the exact sequence.
func (store *Store) GetEntry(ctx context.Context, sequence int64) (auditchain.Entry, bool, error) {
	var model AuditEntry
	err := store.db.WithContext(ctx).Where("sequence = ?", sequence).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auditchain.Entry{}, false, nil
	}
	if err != nil {
		return auditchain.Entry{}, false, err
	}
	return mapAuditEntry(model), true, nil
}

// ListFrom streams entries with sequence >= from in ascending order.
func (store *Store) ListFrom(ctx context.Context, from int64, limit int) ([]auditchain.Entry, error) {
	var rows []AuditEntry
	err := store.db.WithContext(ctx).
		Where("sequence >= ?", from).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]auditchain.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapAuditEntry(row))
	}
	return entries, nil
}

// SequenceBounds maps a recorded-at window onto the first and last sequence
// numbers recorded inside it.
func (store *Store) SequenceBounds(ctx context.Context, start time.Time, end time.Time) (int64, int64, bool, error) {
	type bounds struct {
		First *int64
		Last  *int64
	}
	var row bounds
	err := store.db.WithContext(ctx).
		Model(&AuditEntry{}).
		Select("MIN(sequence) AS first, MAX(sequence) AS last").
		Where("recorded_at >= ? AND recorded_at < ?", start, end).
		Scan(&row).Error
	if err != nil {
		return 0, 0, false, err
	}
	if row.First == nil || row.Last == nil {
		return 0, 0, false, nil
	}
	return *row.First, *row.Last, true, nil
}

func mapAuditEntry(model AuditEntry) auditchain.Entry {
	return auditchain.Entry{
		Sequence: model.Sequence,
		Payload: auditchain.Payload{
			Actor:      model.Actor,
			EntityKind: model.EntityKind,
			EntityID:   model.EntityID,
			Action:     model.Action,
			Before:     json.RawMessage(model.Before),
			After:      json.RawMessage(model.After),
		},
		PrevHash:   model.PrevHash,
		Hash:       model.Hash,
		RecordedAt: model.RecordedAt,
	}
}
