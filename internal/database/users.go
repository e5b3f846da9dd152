package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"
)

const userColumns = `id, name, email, role, requested_role, telegram_id, created_at, updated_at`

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	var telegramID sql.NullInt64
	if user.TelegramID != 0 {
		telegramID = sql.NullInt64{Int64: user.TelegramID, Valid: true}
	}

	result, err := db.q.ExecContext(ctx,
		`INSERT INTO users (name, email, role, requested_role, telegram_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, string(user.Role), string(user.RequestedRole), telegramID, now, now,
	)
	if err != nil {
		return domain.Storage("create user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("get last insert id", err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u             models.User
		role          string
		requestedRole string
		telegramID    sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &requestedRole, &telegramID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.RequestedRole = models.Role(requestedRole)
	u.TelegramID = telegramID.Int64
	return &u, nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("user", id)
	}
	if err != nil {
		return nil, domain.Storage("get user", err)
	}
	return u, nil
}

// GetUserByTelegramID resolves the chat identity used by the bot.
func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("telegram user", telegramID)
	}
	if err != nil {
		return nil, domain.Storage("get user by telegram id", err)
	}
	return u, nil
}

// UpdateUserRole sets the role and requested role. An empty requestedRole clears it.
func (db *DB) UpdateUserRole(ctx context.Context, id int64, role, requestedRole models.Role) error {
	result, err := db.q.ExecContext(ctx,
		`UPDATE users SET role = ?, requested_role = ?, updated_at = ? WHERE id = ?`,
		string(role), string(requestedRole), time.Now(), id,
	)
	if err != nil {
		return domain.Storage("update user role", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("user", id)
	}
	return nil
}

func (db *DB) CountUsersByRole(ctx context.Context, role models.Role) (int, error) {
	var count int
	err := db.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ?`, string(role)).Scan(&count)
	if err != nil {
		return 0, domain.Storage("count users by role", err)
	}
	return count, nil
}

// ListUsersByRole returns users holding role, oldest first.
func (db *DB) ListUsersByRole(ctx context.Context, role models.Role) ([]*models.User, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY id`, string(role))
	if err != nil {
		return nil, domain.Storage("list users by role", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, domain.Storage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list users by role", err)
	}
	return users, nil
}
