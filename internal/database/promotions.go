package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"
)

const promotionColumns = `id, user_id, requested_role, status, actor_id, actioned_at, reason, created_at`

func scanPromotion(row rowScanner) (*models.PromotionRequest, error) {
	var (
		r          models.PromotionRequest
		role       string
		status     string
		actorID    sql.NullInt64
		actionedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.UserID, &role, &status, &actorID, &actionedAt, &r.Reason, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.RequestedRole = models.Role(role)
	r.Status = models.PromotionStatus(status)
	if actorID.Valid {
		id := actorID.Int64
		r.ActorID = &id
	}
	if actionedAt.Valid {
		t := actionedAt.Time
		r.ActionedAt = &t
	}
	return &r, nil
}

func (db *DB) CreatePromotionRequest(ctx context.Context, req *models.PromotionRequest) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`INSERT INTO promotion_requests (user_id, requested_role, status, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		req.UserID, string(req.RequestedRole), string(req.Status), req.Reason, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.InvalidTransition("user", req.UserID, string(models.RolePendingApproval), string(models.RolePendingApproval))
		}
		return domain.Storage("create promotion request", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("get last insert id", err)
	}
	req.ID = id
	req.CreatedAt = now
	return nil
}

func (db *DB) GetPendingPromotion(ctx context.Context, userID int64) (*models.PromotionRequest, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+promotionColumns+` FROM promotion_requests WHERE user_id = ? AND status = 'pending'`, userID)
	r, err := scanPromotion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("promotion request", fmt.Sprintf("user %d", userID))
	}
	if err != nil {
		return nil, domain.Storage("get pending promotion", err)
	}
	return r, nil
}

// ResolvePromotionRequest records the decision on a pending request.
func (db *DB) ResolvePromotionRequest(ctx context.Context, req *models.PromotionRequest) error {
	result, err := db.q.ExecContext(ctx,
		`UPDATE promotion_requests SET status = ?, actor_id = ?, actioned_at = ?, reason = ?
         WHERE id = ? AND status = 'pending'`,
		string(req.Status), req.ActorID, req.ActionedAt, req.Reason, req.ID,
	)
	if err != nil {
		return domain.Storage("resolve promotion request", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("promotion request", req.ID)
	}
	return nil
}

// ListPromotionRequests lists requests newest first. An empty status lists all.
func (db *DB) ListPromotionRequests(ctx context.Context, status models.PromotionStatus) ([]*models.PromotionRequest, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotion_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage("list promotion requests", err)
	}
	defer rows.Close()

	var requests []*models.PromotionRequest
	for rows.Next() {
		r, err := scanPromotion(rows)
		if err != nil {
			return nil, domain.Storage("scan promotion request", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list promotion requests", err)
	}
	return requests, nil
}
