package service

import (
	"context"
	"fmt"

	"messhall/internal/domain"
	"messhall/internal/metrics"
	"messhall/internal/models"

	"github.com/rs/zerolog"
)

// Ledger owns booked_count on meal offerings. Seats are only taken through
// Reserve, which relies on the store's conditional increment, so concurrent
// callers can never push booked_count past capacity.
type Ledger struct {
	meals  domain.MealStore
	logger *zerolog.Logger
}

func NewLedger(meals domain.MealStore, logger *zerolog.Logger) *Ledger {
	return &Ledger{meals: meals, logger: logger}
}

// Reserve takes one seat on the meal using store, which may be transaction-bound.
func (l *Ledger) Reserve(ctx context.Context, store domain.MealStore, mealID int64) error {
	ok, err := store.IncrementBooked(ctx, mealID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Nothing was updated: find out why.
	meal, err := store.GetMeal(ctx, mealID)
	if err != nil {
		return err
	}
	if !meal.IsAvailable {
		metrics.IncLedgerRejection("unavailable")
		return domain.Unavailable("meal", mealID)
	}

	metrics.IncLedgerRejection("capacity_exceeded")
	l.logger.Debug().Int64("meal_id", mealID).Int64("capacity", meal.Capacity).Msg("Seat reservation refused")
	return domain.CapacityExceeded(mealID, fmt.Sprintf("%s %s is full (%d/%d)",
		meal.Date.Format(models.DateLayout), meal.Slot, meal.BookedCount, meal.Capacity))
}

// Release gives one seat back. booked_count never drops below zero.
func (l *Ledger) Release(ctx context.Context, store domain.MealStore, mealID int64) error {
	return store.DecrementBooked(ctx, mealID)
}

func (l *Ledger) Availability(ctx context.Context, mealID int64) (*models.Availability, error) {
	meal, err := l.meals.GetMeal(ctx, mealID)
	if err != nil {
		return nil, err
	}
	a := availabilityOf(meal)
	return &a, nil
}

func availabilityOf(meal *models.MealOffering) models.Availability {
	return models.Availability{
		MealID:      meal.ID,
		Date:        meal.Date,
		Slot:        meal.Slot,
		Capacity:    meal.Capacity,
		Booked:      meal.BookedCount,
		Available:   meal.Remaining(),
		IsAvailable: meal.IsAvailable,
	}
}
