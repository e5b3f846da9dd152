package domain

import (
	"context"
	"time"

	"messhall/internal/models"
)

type MealStore interface {
	GetMeal(ctx context.Context, id int64) (*models.MealOffering, error)
	ListMealsByDate(ctx context.Context, date time.Time) ([]*models.MealOffering, error)
	ListMealsInRange(ctx context.Context, from, to time.Time) ([]*models.MealOffering, error)
	CreateMeal(ctx context.Context, meal *models.MealOffering) error
	UpdateMeal(ctx context.Context, meal *models.MealOffering) error
	SetMealAvailability(ctx context.Context, id int64, available bool) error
	// IncrementBooked adds one seat only while is_available and booked_count < capacity.
	IncrementBooked(ctx context.Context, mealID int64) (bool, error)
	// DecrementBooked removes one seat, never going below zero.
	DecrementBooked(ctx context.Context, mealID int64) error
}

type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	FindActiveBooking(ctx context.Context, userID, mealID int64) (*models.Booking, error)
	ListActiveUserBookingsInRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUserRole(ctx context.Context, id int64, role, requestedRole models.Role) error
	CountUsersByRole(ctx context.Context, role models.Role) (int, error)
}

type PromotionStore interface {
	CreatePromotionRequest(ctx context.Context, req *models.PromotionRequest) error
	GetPendingPromotion(ctx context.Context, userID int64) (*models.PromotionRequest, error)
	ResolvePromotionRequest(ctx context.Context, req *models.PromotionRequest) error
	ListPromotionRequests(ctx context.Context, status models.PromotionStatus) ([]*models.PromotionRequest, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, role models.Role, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

// Repository is the full persistence surface used by the workflows.
type Repository interface {
	MealStore
	BookingStore
	UserStore
	PromotionStore
	NotificationStore
	// InTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
}
