package db

import "context"

const insertAuditEvent = `INSERT INTO audit_events (notification_id, status, title, detail, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id`

type InsertAuditEventParams struct {
	NotificationID string
	Status         string
	Title          string
	Detail         string
	CreatedAt      int64
}

func (q *Queries) InsertAuditEvent(ctx context.Context, arg InsertAuditEventParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertAuditEvent,
		arg.NotificationID,
		arg.Status,
		arg.Title,
		arg.Detail,
		arg.CreatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listAuditEvents = `SELECT id, notification_id, status, title, detail, created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT ?`

func (q *Queries) ListAuditEvents(ctx context.Context, limit int64) ([]AuditEvent, error) {
	rows, err := q.db.QueryContext(ctx, listAuditEvents, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []AuditEvent
	for rows.Next() {
		var i AuditEvent
		if err := rows.Scan(&i.ID, &i.NotificationID, &i.Status, &i.Title, &i.Detail, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const pruneAuditEvents = `DELETE FROM audit_events WHERE created_at < ?`

func (q *Queries) PruneAuditEvents(ctx context.Context, before int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, pruneAuditEvents, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
