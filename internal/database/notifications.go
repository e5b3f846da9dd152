package database

import (
	"context"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`INSERT INTO notifications (recipient_role, kind, title, body, ref_user_id, is_read, created_at)
         VALUES (?, ?, ?, ?, ?, 0, ?)`,
		string(n.RecipientRole), n.Kind, n.Title, n.Body, n.RefUserID, now,
	)
	if err != nil {
		return domain.Storage("create notification", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("get last insert id", err)
	}
	n.ID = id
	n.IsRead = false
	n.CreatedAt = now
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, role models.Role, unreadOnly bool) ([]*models.Notification, error) {
	query := `SELECT id, recipient_role, kind, title, body, ref_user_id, is_read, created_at
              FROM notifications WHERE recipient_role = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.q.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, domain.Storage("list notifications", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var (
			n         models.Notification
			recipient string
		)
		if err := rows.Scan(&n.ID, &recipient, &n.Kind, &n.Title, &n.Body, &n.RefUserID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, domain.Storage("scan notification", err)
		}
		n.RecipientRole = models.Role(recipient)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list notifications", err)
	}
	return out, nil
}

func (db *DB) MarkNotificationRead(ctx context.Context, id int64) error {
	result, err := db.q.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return domain.Storage("mark notification read", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("notification", id)
	}
	return nil
}
