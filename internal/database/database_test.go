package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(offset int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func createMeal(t *testing.T, db *DB, date time.Time, slot models.Slot, capacity int64) *models.MealOffering {
	t.Helper()
	meal := &models.MealOffering{
		Date:        date,
		Slot:        slot,
		Name:        string(slot),
		Price:       decimal.RequireFromString("45.50"),
		Capacity:    capacity,
		IsAvailable: true,
	}
	require.NoError(t, db.CreateMeal(context.Background(), meal))
	return meal
}

func TestMealCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	meal := createMeal(t, db, day(1), models.SlotLunch, 10)
	assert.NotZero(t, meal.ID)

	got, err := db.GetMeal(ctx, meal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotLunch, got.Slot)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("45.5")))
	assert.Equal(t, day(1), got.Date)
	assert.True(t, got.IsAvailable)

	t.Run("DuplicateSlot", func(t *testing.T) {
		err := db.CreateMeal(ctx, &models.MealOffering{Date: day(1), Slot: models.SlotLunch, Capacity: 1})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetMeal(ctx, 999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListOrderedBySlot", func(t *testing.T) {
		createMeal(t, db, day(1), models.SlotDinner, 5)
		createMeal(t, db, day(1), models.SlotBreakfast, 5)
		meals, err := db.ListMealsByDate(ctx, day(1))
		require.NoError(t, err)
		require.Len(t, meals, 3)
		assert.Equal(t, models.SlotBreakfast, meals[0].Slot)
		assert.Equal(t, models.SlotLunch, meals[1].Slot)
		assert.Equal(t, models.SlotDinner, meals[2].Slot)
	})

	t.Run("SetAvailability", func(t *testing.T) {
		require.NoError(t, db.SetMealAvailability(ctx, meal.ID, false))
		got, err := db.GetMeal(ctx, meal.ID)
		require.NoError(t, err)
		assert.False(t, got.IsAvailable)
		assert.ErrorIs(t, db.SetMealAvailability(ctx, 999, true), domain.ErrNotFound)
	})
}

func TestIncrementBooked(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	meal := createMeal(t, db, day(1), models.SlotSnacks, 2)

	for i := 0; i < 2; i++ {
		ok, err := db.IncrementBooked(ctx, meal.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := db.IncrementBooked(ctx, meal.ID)
	require.NoError(t, err)
	assert.False(t, ok, "full meal must not accept another seat")

	t.Run("CapacityBelowBooked", func(t *testing.T) {
		got, err := db.GetMeal(ctx, meal.ID)
		require.NoError(t, err)
		got.Capacity = 1
		assert.ErrorIs(t, db.UpdateMeal(ctx, got), domain.ErrValidation)
	})

	require.NoError(t, db.DecrementBooked(ctx, meal.ID))
	require.NoError(t, db.DecrementBooked(ctx, meal.ID))
	require.NoError(t, db.DecrementBooked(ctx, meal.ID))

	got, err := db.GetMeal(ctx, meal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.BookedCount, "decrement is floored at zero")

	t.Run("UnavailableMeal", func(t *testing.T) {
		require.NoError(t, db.SetMealAvailability(ctx, meal.ID, false))
		ok, err := db.IncrementBooked(ctx, meal.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBookingCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	meal := createMeal(t, db, day(2), models.SlotDinner, 5)

	booking := &models.Booking{
		UserID:         7,
		MealID:         meal.ID,
		Date:           meal.Date,
		Slot:           meal.Slot,
		Price:          meal.Price,
		Status:         models.StatusPending,
		SpecialRequest: "no onions",
	}
	require.NoError(t, db.CreateBooking(ctx, booking))
	assert.Equal(t, int64(1), booking.Version)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "no onions", got.SpecialRequest)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ConsumedAt)

	t.Run("DuplicateActive", func(t *testing.T) {
		dup := *booking
		dup.ID = 0
		assert.ErrorIs(t, db.CreateBooking(ctx, &dup), domain.ErrDuplicateBooking)
	})

	t.Run("FindActive", func(t *testing.T) {
		active, err := db.FindActiveBooking(ctx, 7, meal.ID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, booking.ID, active.ID)

		none, err := db.FindActiveBooking(ctx, 8, meal.ID)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("VersionedUpdate", func(t *testing.T) {
		now := time.Now()
		got.Status = models.StatusConsumed
		got.ConsumedAt = &now
		require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, got, 1))
		assert.Equal(t, int64(2), got.Version)

		stale := *got
		stale.Status = models.StatusCancelled
		err := db.UpdateBookingStatusWithVersion(ctx, &stale, 1)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)

		reread, err := db.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConsumed, reread.Status)
		require.NotNil(t, reread.ConsumedAt)
	})

	t.Run("CancelledFreesDedupSlot", func(t *testing.T) {
		other := &models.Booking{UserID: 9, MealID: meal.ID, Date: meal.Date, Slot: meal.Slot, Price: meal.Price, Status: models.StatusPending}
		require.NoError(t, db.CreateBooking(ctx, other))
		other.Status = models.StatusCancelled
		require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, other, other.Version))

		again := &models.Booking{UserID: 9, MealID: meal.ID, Date: meal.Date, Slot: meal.Slot, Price: meal.Price, Status: models.StatusPending}
		require.NoError(t, db.CreateBooking(ctx, again))

		all, err := db.ListUserBookings(ctx, 9)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := db.ListActiveUserBookingsInRange(ctx, 9, day(0), day(7))
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, again.ID, active[0].ID)
	})

	t.Run("ListInRange", func(t *testing.T) {
		list, err := db.ListBookingsInRange(ctx, day(2), day(2))
		require.NoError(t, err)
		assert.Len(t, list, 3)

		list, err = db.ListBookingsInRange(ctx, day(3), day(4))
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestInTx(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	meal := createMeal(t, db, day(1), models.SlotLunch, 3)

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.InTx(ctx, func(tx domain.Repository) error {
			ok, err := tx.IncrementBooked(ctx, meal.ID)
			require.NoError(t, err)
			require.True(t, ok)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := db.GetMeal(ctx, meal.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.BookedCount)
	})

	t.Run("CommitAndNested", func(t *testing.T) {
		err := db.InTx(ctx, func(tx domain.Repository) error {
			if _, err := tx.IncrementBooked(ctx, meal.ID); err != nil {
				return err
			}
			return tx.InTx(ctx, func(inner domain.Repository) error {
				_, err := inner.IncrementBooked(ctx, meal.ID)
				return err
			})
		})
		require.NoError(t, err)

		got, err := db.GetMeal(ctx, meal.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.BookedCount)
	})
}

func TestConcurrentIncrement(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	const seats = 3
	meal := createMeal(t, db, day(1), models.SlotBreakfast, seats)

	const numGoroutines = 20
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			ok, err := db.IncrementBooked(ctx, meal.ID)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, seats, successes)

	got, err := db.GetMeal(ctx, meal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(seats), got.BookedCount)
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()

	_, err = db.GetMeal(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = db.IncrementBooked(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrStorage)

	err = db.CreateBooking(ctx, &models.Booking{})
	assert.ErrorIs(t, err, domain.ErrStorage)

	err = db.InTx(ctx, func(domain.Repository) error { return nil })
	assert.ErrorIs(t, err, domain.ErrStorage)
}
