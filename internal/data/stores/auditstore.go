package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/internal/data/db"
)

// AuditStore implements notify.AuditLog using SQLite.
type AuditStore struct {
	db *db.DB
}

var _ notify.AuditLog = (*AuditStore)(nil)

// NewAuditStore creates a new SQLite-backed audit log.
func NewAuditStore(db *db.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record appends a lifecycle event.
func (s *AuditStore) Record(ctx context.Context, ev notify.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.Queries().InsertAuditEvent(ctx, db.InsertAuditEventParams{
		NotificationID: ev.NotificationID,
		Status:         string(ev.Status),
		Title:          ev.Title,
		Detail:         ev.Detail,
		CreatedAt:      ev.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// List returns up to limit events, newest first. A non-positive limit
// returns every event.
func (s *AuditStore) List(ctx context.Context, limit int) ([]notify.AuditEvent, error) {
	n := int64(limit)
	if n <= 0 {
		n = -1 // SQLite: no limit
	}

	rows, err := s.db.Queries().ListAuditEvents(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]notify.AuditEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, rowToAuditEvent(row))
	}

	return events, nil
}

// Prune deletes events created before the cutoff and returns how many were removed.
func (s *AuditStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.db.Queries().PruneAuditEvents(ctx, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return n, nil
}

func rowToAuditEvent(row db.AuditEvent) notify.AuditEvent {
	return notify.AuditEvent{
		ID:             row.ID,
		NotificationID: row.NotificationID,
		Status:         notify.Status(row.Status),
		Title:          row.Title,
		Detail:         row.Detail,
		CreatedAt:      time.Unix(0, row.CreatedAt),
	}
}
