package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"messhall/internal/config"
	"messhall/internal/database"
	"messhall/internal/domain"
	"messhall/internal/events"
	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLedger_CapacityOneExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotLunch, 1, "50")

	a, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 1, MealID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.bookedCount(t, m.ID))

	_, err = f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 2, MealID: m.ID})
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = f.bookings.CancelBooking(ctx, a.ID, Actor{UserID: 1, Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.bookedCount(t, m.ID))

	_, err = f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 2, MealID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.bookedCount(t, m.ID))
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotBreakfast, 2, "20")

	require.NoError(t, f.ledger.Reserve(ctx, f.db, m.ID))
	require.NoError(t, f.ledger.Reserve(ctx, f.db, m.ID))

	err := f.ledger.Reserve(ctx, f.db, m.ID)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "breakfast")

	avail, err := f.ledger.Availability(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), avail.Booked)
	assert.Equal(t, int64(0), avail.Available)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.ledger.Release(ctx, f.db, m.ID))
	}
	assert.Equal(t, int64(0), f.bookedCount(t, m.ID))

	assert.ErrorIs(t, f.ledger.Reserve(ctx, f.db, 999), domain.ErrNotFound)

	require.NoError(t, f.db.SetMealAvailability(ctx, m.ID, false))
	assert.ErrorIs(t, f.ledger.Reserve(ctx, f.db, m.ID), domain.ErrUnavailable)
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 2, models.SlotDinner, 10, "80.25")

	b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: m.ID, SpecialRequest: "vegan"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, "vegan", b.SpecialRequest)
	assert.True(t, b.Price.Equal(decimal.RequireFromString("80.25")))
	assert.Equal(t, []string{events.EventBookingCreated}, f.bus.Types())

	t.Run("DuplicateIncrementsOnce", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: m.ID})
		assert.ErrorIs(t, err, domain.ErrDuplicateBooking)
		assert.Equal(t, int64(1), f.bookedCount(t, m.ID))
	})

	t.Run("PriceSnapshot", func(t *testing.T) {
		newPrice := decimal.RequireFromString("99")
		_, err := f.catalog.UpdateMeal(ctx, m.ID, UpdateMealRequest{Price: &newPrice})
		require.NoError(t, err)

		got, err := f.db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("80.25")))
	})

	t.Run("MealNotFound", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: 404})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Unavailable", func(t *testing.T) {
		closed := f.meal(t, 2, models.SlotLunch, 10, "10")
		require.NoError(t, f.catalog.SetAvailability(ctx, closed.ID, false))
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: closed.ID})
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		assert.Equal(t, int64(0), f.bookedCount(t, closed.ID))
	})

	t.Run("PastDate", func(t *testing.T) {
		past := f.meal(t, -1, models.SlotLunch, 10, "10")
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: past.ID})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("TooFarAhead", func(t *testing.T) {
		far := f.meal(t, 30, models.SlotLunch, 10, "10")
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 5, MealID: far.ID})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCancelAndRebook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotSnacks, 5, "15")
	owner := Actor{UserID: 3, Role: models.RoleStudent}

	for i := 0; i < 3; i++ {
		b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 3, MealID: m.ID})
		require.NoError(t, err)
		if i < 2 {
			_, err = f.bookings.CancelBooking(ctx, b.ID, owner)
			require.NoError(t, err)
		}
	}

	active, err := f.db.ListActiveUserBookingsInRange(ctx, 3, m.Date, m.Date)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, int64(1), f.bookedCount(t, m.ID))

	all, err := f.bookings.ListUserBookings(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotLunch, 5, "40")
	b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 10, MealID: m.ID})
	require.NoError(t, err)

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.bookings.CancelBooking(ctx, 999, Actor{UserID: 10, Role: models.RoleStudent})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ForbiddenForOtherUser", func(t *testing.T) {
		_, err := f.bookings.CancelBooking(ctx, b.ID, Actor{UserID: 11, Role: models.RoleMessStaff})
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, int64(1), f.bookedCount(t, m.ID))
	})

	t.Run("AdminMayCancel", func(t *testing.T) {
		got, err := f.bookings.CancelBooking(ctx, b.ID, Actor{UserID: 1, Role: models.RoleAdmin})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.Equal(t, int64(0), f.bookedCount(t, m.ID))
	})

	t.Run("TerminalIsInvalidTransition", func(t *testing.T) {
		_, err := f.bookings.CancelBooking(ctx, b.ID, Actor{UserID: 10, Role: models.RoleStudent})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, int64(0), f.bookedCount(t, m.ID))
	})
}

func TestPaymentAndConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotDinner, 5, "60")
	b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 20, MealID: m.ID})
	require.NoError(t, err)
	staff := Actor{UserID: 2, Role: models.RoleMessStaff}

	t.Run("ConsumeBeforePayment", func(t *testing.T) {
		_, err := f.bookings.MarkConsumed(ctx, b.ID, staff)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("EmptyReference", func(t *testing.T) {
		_, err := f.bookings.ConfirmPayment(ctx, b.ID, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ConfirmIsIdempotent", func(t *testing.T) {
		got, err := f.bookings.ConfirmPayment(ctx, b.ID, "pay_123")
		require.NoError(t, err)
		assert.Equal(t, models.StatusBooked, got.Status)
		assert.Equal(t, "pay_123", got.PaymentRef)

		again, err := f.bookings.ConfirmPayment(ctx, b.ID, "pay_123")
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version)

		_, err = f.bookings.ConfirmPayment(ctx, b.ID, "pay_other")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("StudentCannotConsume", func(t *testing.T) {
		_, err := f.bookings.MarkConsumed(ctx, b.ID, Actor{UserID: 20, Role: models.RoleStudent})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("StaffConsumes", func(t *testing.T) {
		got, err := f.bookings.MarkConsumed(ctx, b.ID, staff)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConsumed, got.Status)
		require.NotNil(t, got.ConsumedAt)
		assert.True(t, got.ConsumedAt.Equal(testNow))

		_, err = f.bookings.CancelBooking(ctx, b.ID, Actor{UserID: 20, Role: models.RoleStudent})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, int64(1), f.bookedCount(t, m.ID), "consumed seat stays counted")
	})

	t.Run("ConsumedStillBlocksRebooking", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 20, MealID: m.ID})
		assert.ErrorIs(t, err, domain.ErrDuplicateBooking)
	})

	assert.Equal(t, []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingConsumed,
	}, f.bus.Types())
}

func TestDeleteBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotLunch, 2, "40")
	b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 30, MealID: m.ID})
	require.NoError(t, err)

	_, err = f.bookings.DeleteBooking(ctx, b.ID, Actor{UserID: 30, Role: models.RoleMessSupervisor})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.bookings.DeleteBooking(ctx, b.ID, Actor{UserID: 1, Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.Equal(t, int64(0), f.bookedCount(t, m.ID))

	_, err = f.bookings.DeleteBooking(ctx, b.ID, Actor{UserID: 1, Role: models.RoleAdmin})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotLunch, 2, "40")
	b, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 40, MealID: m.ID})
	require.NoError(t, err)

	_, err = f.bookings.GetBooking(ctx, b.ID, Actor{UserID: 40, Role: models.RoleStudent})
	assert.NoError(t, err)
	_, err = f.bookings.GetBooking(ctx, b.ID, Actor{UserID: 2, Role: models.RoleMessStaff})
	assert.NoError(t, err)
	_, err = f.bookings.GetBooking(ctx, b.ID, Actor{UserID: 41, Role: models.RoleStudent})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateDayBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("AllSlots", func(t *testing.T) {
		f := newFixture(t)
		f.meal(t, 1, models.SlotBreakfast, 5, "20")
		f.meal(t, 1, models.SlotLunch, 5, "45.50")
		f.meal(t, 1, models.SlotDinner, 5, "60")

		res, err := f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		require.NoError(t, err)
		require.Len(t, res.Bookings, 3)
		assert.Equal(t, models.SlotBreakfast, res.Bookings[0].Slot)
		assert.True(t, res.Total.Equal(decimal.RequireFromString("125.50")))

		_, err = f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		assert.ErrorIs(t, err, domain.ErrDuplicateBooking)
	})

	t.Run("OneFullSlotBooksNothing", func(t *testing.T) {
		f := newFixture(t)
		breakfast := f.meal(t, 1, models.SlotBreakfast, 5, "20")
		lunch := f.meal(t, 1, models.SlotLunch, 1, "45")
		dinner := f.meal(t, 1, models.SlotDinner, 5, "60")

		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 99, MealID: lunch.ID})
		require.NoError(t, err)

		_, err = f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		require.ErrorIs(t, err, domain.ErrCapacityExceeded)
		assert.Contains(t, err.Error(), "lunch")

		held, err := f.db.ListActiveUserBookingsInRange(ctx, 7, breakfast.Date, breakfast.Date)
		require.NoError(t, err)
		assert.Empty(t, held)
		assert.Equal(t, int64(0), f.bookedCount(t, breakfast.ID))
		assert.Equal(t, int64(0), f.bookedCount(t, dinner.ID))
	})

	t.Run("SkipsUnavailableSlots", func(t *testing.T) {
		f := newFixture(t)
		f.meal(t, 1, models.SlotBreakfast, 5, "20")
		closed := f.meal(t, 1, models.SlotDinner, 5, "60")
		require.NoError(t, f.catalog.SetAvailability(ctx, closed.ID, false))

		res, err := f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		require.NoError(t, err)
		assert.Len(t, res.Bookings, 1)
	})

	t.Run("NoMeals", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ExistingSingleBookingBlocksDay", func(t *testing.T) {
		f := newFixture(t)
		lunch := f.meal(t, 1, models.SlotLunch, 5, "45")
		f.meal(t, 1, models.SlotDinner, 5, "60")
		_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: 7, MealID: lunch.ID})
		require.NoError(t, err)

		_, err = f.bookings.CreateDayBooking(ctx, DayBookingRequest{UserID: 7, Date: testNow.AddDate(0, 0, 1)})
		assert.ErrorIs(t, err, domain.ErrDuplicateBooking)
	})
}

func TestCreateWeekBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for d := 0; d < 7; d++ {
		f.meal(t, d, models.SlotLunch, 2, "10")
	}
	f.meal(t, 7, models.SlotLunch, 2, "10") // next week, not included

	res, err := f.bookings.CreateWeekBooking(ctx, WeekBookingRequest{UserID: 8, WeekStart: testNow})
	require.NoError(t, err)
	assert.Len(t, res.Bookings, 7)
	assert.True(t, res.Total.Equal(decimal.NewFromInt(70)))

	_, err = f.bookings.CreateWeekBooking(ctx, WeekBookingRequest{UserID: 9, WeekStart: testNow.AddDate(0, 0, -7)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcurrentCreateBooking(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	f := newFixtureWithDB(t, db)

	const seats = 3
	const numGoroutines = 12
	m := f.meal(t, 1, models.SlotLunch, seats, "30")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{UserID: userID, MealID: m.ID})
			results <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	successes, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrCapacityExceeded):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, seats, successes)
	assert.Equal(t, numGoroutines-seats, full)
	assert.Equal(t, int64(seats), f.bookedCount(t, m.ID))
}

func TestBookingCollaborators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.meal(t, 1, models.SlotLunch, 5, "40")

	worker := new(mockSyncWorker)
	limiter := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	svc := NewBookingService(f.db, f.ledger, nil, worker, limiter, config.BookingConfig{
		MaxAdvanceDays: 14, RateLimit: 1, RateWindow: 60,
	}, &logger)
	svc.now = func() time.Time { return testNow }

	limiter.On("CheckRateLimit", ctx, "booking:50", 1, time.Minute).Return(true, nil).Once()
	worker.On("EnqueueTask", ctx, models.SyncTaskUpsert, mock.MatchedBy(func(b *models.Booking) bool {
		return b.UserID == 50 && b.Status == models.StatusPending
	})).Return(errors.New("queue full")).Once()

	_, err := svc.CreateBooking(ctx, CreateBookingRequest{UserID: 50, MealID: m.ID})
	require.NoError(t, err, "sync enqueue failure is logged, not returned")

	limiter.On("CheckRateLimit", ctx, "booking:50", 1, time.Minute).Return(false, nil).Once()
	_, err = svc.CreateBooking(ctx, CreateBookingRequest{UserID: 50, MealID: m.ID})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	limiter.On("CheckRateLimit", ctx, "booking:51", 1, time.Minute).Return(false, errors.New("redis down")).Once()
	worker.On("EnqueueTask", ctx, models.SyncTaskUpsert, mock.Anything).Return(nil).Once()
	_, err = svc.CreateBooking(ctx, CreateBookingRequest{UserID: 51, MealID: m.ID})
	assert.NoError(t, err, "limiter errors fail open")

	limiter.AssertExpectations(t)
	worker.AssertExpectations(t)
}
