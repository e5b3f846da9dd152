package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"

	"github.com/mattn/go-sqlite3"
)

const mealColumns = `id, date, slot, name, price, capacity, booked_count, is_available, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner) (*models.MealOffering, error) {
	var (
		m    models.MealOffering
		date string
		slot string
	)
	if err := row.Scan(&m.ID, &date, &slot, &m.Name, &m.Price, &m.Capacity, &m.BookedCount, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := parseDate(date)
	if err != nil {
		return nil, fmt.Errorf("invalid meal date %q: %w", date, err)
	}
	m.Date = d
	m.Slot = models.Slot(slot)
	return &m, nil
}

func (db *DB) GetMeal(ctx context.Context, id int64) (*models.MealOffering, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals WHERE id = ?`, id)
	meal, err := scanMeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("meal", id)
	}
	if err != nil {
		return nil, domain.Storage("get meal", err)
	}
	return meal, nil
}

func (db *DB) ListMealsByDate(ctx context.Context, date time.Time) ([]*models.MealOffering, error) {
	return db.ListMealsInRange(ctx, date, date)
}

// ListMealsInRange returns offerings with from <= date <= to, ordered by date then slot.
func (db *DB) ListMealsInRange(ctx context.Context, from, to time.Time) ([]*models.MealOffering, error) {
	query := `SELECT ` + mealColumns + ` FROM meals WHERE date >= ? AND date <= ?
              ORDER BY date, CASE slot WHEN 'breakfast' THEN 0 WHEN 'lunch' THEN 1 WHEN 'snacks' THEN 2 ELSE 3 END`
	rows, err := db.q.QueryContext(ctx, query, dateKey(from), dateKey(to))
	if err != nil {
		return nil, domain.Storage("list meals", err)
	}
	defer rows.Close()

	var meals []*models.MealOffering
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, domain.Storage("scan meal", err)
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list meals", err)
	}
	return meals, nil
}

func (db *DB) CreateMeal(ctx context.Context, meal *models.MealOffering) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`INSERT INTO meals (date, slot, name, price, capacity, booked_count, is_available, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		dateKey(meal.Date),
		string(meal.Slot),
		meal.Name,
		meal.Price.String(),
		meal.Capacity,
		boolToInt(meal.IsAvailable),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Validation(fmt.Sprintf("meal for %s %s already exists", dateKey(meal.Date), meal.Slot))
		}
		return domain.Storage("create meal", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("get last insert id", err)
	}
	meal.ID = id
	meal.BookedCount = 0
	meal.CreatedAt = now
	meal.UpdatedAt = now
	return nil
}

// UpdateMeal changes name, price and capacity. booked_count is owned by the ledger.
func (db *DB) UpdateMeal(ctx context.Context, meal *models.MealOffering) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`UPDATE meals SET name = ?, price = ?, capacity = ?, is_available = ?, updated_at = ? WHERE id = ?`,
		meal.Name, meal.Price.String(), meal.Capacity, boolToInt(meal.IsAvailable), now, meal.ID,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintCheck) {
			return domain.Validation(fmt.Sprintf("capacity %d is below the seats already booked", meal.Capacity))
		}
		return domain.Storage("update meal", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("meal", meal.ID)
	}
	meal.UpdatedAt = now
	return nil
}

func (db *DB) SetMealAvailability(ctx context.Context, id int64, available bool) error {
	result, err := db.q.ExecContext(ctx,
		`UPDATE meals SET is_available = ?, updated_at = ? WHERE id = ?`,
		boolToInt(available), time.Now(), id,
	)
	if err != nil {
		return domain.Storage("set meal availability", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("meal", id)
	}
	return nil
}

func (db *DB) IncrementBooked(ctx context.Context, mealID int64) (bool, error) {
	result, err := db.q.ExecContext(ctx,
		`UPDATE meals SET booked_count = booked_count + 1, updated_at = ?
         WHERE id = ? AND is_available = 1 AND booked_count < capacity`,
		time.Now(), mealID,
	)
	if err != nil {
		return false, domain.Storage("increment booked count", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, domain.Storage("increment booked count", err)
	}
	return n == 1, nil
}

func (db *DB) DecrementBooked(ctx context.Context, mealID int64) error {
	_, err := db.q.ExecContext(ctx,
		`UPDATE meals SET booked_count = booked_count - 1, updated_at = ? WHERE id = ? AND booked_count > 0`,
		time.Now(), mealID,
	)
	if err != nil {
		return domain.Storage("decrement booked count", err)
	}
	return nil
}
