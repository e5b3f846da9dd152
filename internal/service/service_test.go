package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"messhall/internal/config"
	"messhall/internal/database"
	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) PublishJSON(eventType string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	return nil
}

func (b *recordingBus) Types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

type mockSyncWorker struct {
	mock.Mock
}

func (m *mockSyncWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	return m.Called(ctx, taskType, booking).Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

var testNow = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) // a Monday

type fixture struct {
	db         *database.DB
	bus        *recordingBus
	ledger     *Ledger
	bookings   *BookingService
	promotions *PromotionService
	catalog    *CatalogService
}

func newFixtureWithDB(t *testing.T, db *database.DB) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	bus := &recordingBus{}
	ledger := NewLedger(db, &logger)

	bookings := NewBookingService(db, ledger, bus, nil, nil, config.BookingConfig{MaxAdvanceDays: 14}, &logger)
	bookings.now = func() time.Time { return testNow }

	promotions := NewPromotionService(db, bus, config.RolesConfig{
		AwaitingSetup: models.RoleAwaitingSetup,
		Caps:          map[models.Role]int{models.RoleAdmin: 1},
	}, &logger)
	promotions.now = func() time.Time { return testNow }

	return &fixture{
		db:         db,
		bus:        bus,
		ledger:     ledger,
		bookings:   bookings,
		promotions: promotions,
		catalog:    NewCatalogService(db, ledger, &logger),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newFixtureWithDB(t, db)
}

func (f *fixture) meal(t *testing.T, dayOffset int, slot models.Slot, capacity int64, price string) *models.MealOffering {
	t.Helper()
	m, err := f.catalog.CreateMeal(context.Background(), CreateMealRequest{
		Date:     testNow.AddDate(0, 0, dayOffset),
		Slot:     slot,
		Name:     string(slot),
		Price:    decimal.RequireFromString(price),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) user(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Name: name, Role: role}
	require.NoError(t, f.db.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) bookedCount(t *testing.T, mealID int64) int64 {
	t.Helper()
	m, err := f.db.GetMeal(context.Background(), mealID)
	require.NoError(t, err)
	return m.BookedCount
}
