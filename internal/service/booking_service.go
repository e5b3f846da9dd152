package service

import (
	"context"
	"fmt"
	"time"

	"messhall/internal/config"
	"messhall/internal/domain"
	"messhall/internal/events"
	"messhall/internal/metrics"
	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type CreateBookingRequest struct {
	UserID         int64
	MealID         int64
	SpecialRequest string
}

type DayBookingRequest struct {
	UserID         int64
	Date           time.Time
	SpecialRequest string
}

type WeekBookingRequest struct {
	UserID         int64
	WeekStart      time.Time
	SpecialRequest string
}

// BatchResult is the outcome of a day or week booking.
type BatchResult struct {
	Bookings []*models.Booking `json:"bookings"`
	Total    decimal.Decimal   `json:"total"`
}

type BookingService struct {
	repo           domain.Repository
	ledger         *Ledger
	eventBus       domain.EventPublisher
	syncWorker     domain.SyncWorker
	limiter        domain.RateLimiter
	maxAdvanceDays int
	rateLimit      int
	rateWindow     time.Duration
	now            func() time.Time
	logger         *zerolog.Logger
}

// NewBookingService wires the workflow. eventBus, syncWorker and limiter may be nil.
func NewBookingService(
	repo domain.Repository,
	ledger *Ledger,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	limiter domain.RateLimiter,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	return &BookingService{
		repo:           repo,
		ledger:         ledger,
		eventBus:       eventBus,
		syncWorker:     syncWorker,
		limiter:        limiter,
		maxAdvanceDays: cfg.MaxAdvanceDays,
		rateLimit:      cfg.RateLimit,
		rateWindow:     time.Duration(cfg.RateWindow) * time.Second,
		now:            time.Now,
		logger:         logger,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateBookingDate rejects past dates and dates beyond the advance window.
func (s *BookingService) ValidateBookingDate(date time.Time) error {
	today := startOfDay(s.now())
	day := startOfDay(date)

	if day.Before(today) {
		return domain.Validation(fmt.Sprintf("date %s is in the past", day.Format(models.DateLayout)))
	}
	if day.After(today.AddDate(0, 0, s.maxAdvanceDays)) {
		return domain.Validation(fmt.Sprintf("date %s is more than %d days ahead", day.Format(models.DateLayout), s.maxAdvanceDays))
	}
	return nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, userID int64) error {
	if s.limiter == nil || s.rateLimit <= 0 {
		return nil
	}
	key := fmt.Sprintf("booking:%d", userID)
	allowed, err := s.limiter.CheckRateLimit(ctx, key, s.rateLimit, s.rateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("rate limiter error, allowing request")
		return nil
	}
	if !allowed {
		return domain.RateLimited(key)
	}
	return nil
}

func newPendingBooking(userID int64, meal *models.MealOffering, specialRequest string) *models.Booking {
	return &models.Booking{
		UserID:         userID,
		MealID:         meal.ID,
		Date:           meal.Date,
		Slot:           meal.Slot,
		Price:          meal.Price,
		Status:         models.StatusPending,
		SpecialRequest: specialRequest,
	}
}

// CreateBooking reserves a seat and records a pending booking priced at the
// meal's current price. Nothing is persisted when any step fails.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, err
	}

	var booking *models.Booking
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		meal, err := tx.GetMeal(ctx, req.MealID)
		if err != nil {
			return err
		}
		if !meal.IsAvailable {
			return domain.Unavailable("meal", meal.ID)
		}
		if err := s.ValidateBookingDate(meal.Date); err != nil {
			return err
		}

		existing, err := tx.FindActiveBooking(ctx, req.UserID, meal.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.DuplicateBooking(req.UserID, meal.ID)
		}

		if err := s.ledger.Reserve(ctx, tx, meal.ID); err != nil {
			return err
		}

		booking = newPendingBooking(req.UserID, meal, req.SpecialRequest)
		return tx.CreateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBooking(string(models.StatusPending))
	s.publishEvent(events.EventBookingCreated, booking, req.UserID)
	s.enqueueSync(ctx, booking, models.SyncTaskUpsert)
	return booking, nil
}

// CreateDayBooking books every available slot on a date, all or nothing.
func (s *BookingService) CreateDayBooking(ctx context.Context, req DayBookingRequest) (*BatchResult, error) {
	return s.createBatch(ctx, req.UserID, startOfDay(req.Date), startOfDay(req.Date), req.SpecialRequest)
}

// CreateWeekBooking books every available slot in the seven days from WeekStart, all or nothing.
func (s *BookingService) CreateWeekBooking(ctx context.Context, req WeekBookingRequest) (*BatchResult, error) {
	from := startOfDay(req.WeekStart)
	return s.createBatch(ctx, req.UserID, from, from.AddDate(0, 0, 6), req.SpecialRequest)
}

func (s *BookingService) createBatch(ctx context.Context, userID int64, from, to time.Time, specialRequest string) (*BatchResult, error) {
	if err := s.ValidateBookingDate(from); err != nil {
		return nil, err
	}
	if err := s.ValidateBookingDate(to); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	rangeID := from.Format(models.DateLayout)
	if !to.Equal(from) {
		rangeID += ".." + to.Format(models.DateLayout)
	}

	result := &BatchResult{Total: decimal.Zero}
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		all, err := tx.ListMealsInRange(ctx, from, to)
		if err != nil {
			return err
		}
		meals := make([]*models.MealOffering, 0, len(all))
		for _, m := range all {
			if m.IsAvailable {
				meals = append(meals, m)
			}
		}
		if len(meals) == 0 {
			return domain.NotFound("meals", rangeID)
		}

		held, err := tx.ListActiveUserBookingsInRange(ctx, userID, from, to)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return domain.DuplicateBooking(userID, held[0].MealID)
		}

		// Check every slot before touching any of them.
		for _, m := range meals {
			if m.IsFull() {
				return domain.CapacityExceeded(m.ID, fmt.Sprintf("%s %s is full (%d/%d)",
					m.Date.Format(models.DateLayout), m.Slot, m.BookedCount, m.Capacity))
			}
		}

		for _, m := range meals {
			if err := s.ledger.Reserve(ctx, tx, m.ID); err != nil {
				return err
			}
			b := newPendingBooking(userID, m, specialRequest)
			if err := tx.CreateBooking(ctx, b); err != nil {
				return err
			}
			result.Bookings = append(result.Bookings, b)
			result.Total = result.Total.Add(b.Price)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, b := range result.Bookings {
		metrics.IncBooking(string(models.StatusPending))
		s.publishEvent(events.EventBookingCreated, b, userID)
		s.enqueueSync(ctx, b, models.SyncTaskUpsert)
	}

	s.logger.Info().
		Int64("user_id", userID).
		Str("range", rangeID).
		Int("bookings", len(result.Bookings)).
		Str("total", result.Total.StringFixed(2)).
		Msg("Batch booking created")

	return result, nil
}

// changeStatus validates the transition against the status table and persists it.
func (s *BookingService) changeStatus(ctx context.Context, tx domain.Repository, b *models.Booking, to models.BookingStatus) error {
	if !models.CanTransition(b.Status, to) {
		return domain.InvalidTransition("booking", b.ID, string(b.Status), string(to))
	}
	b.Status = to
	return tx.UpdateBookingStatusWithVersion(ctx, b, b.Version)
}

// CancelBooking cancels a pending or booked booking and frees its seat.
// Only the owner or an admin may cancel.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error) {
	var booking *models.Booking
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != actor.UserID && !actor.IsAdmin() {
			return domain.Forbidden("booking", bookingID, "only the owner or an admin may cancel")
		}
		if err := s.changeStatus(ctx, tx, b, models.StatusCancelled); err != nil {
			return err
		}
		booking = b
		return s.ledger.Release(ctx, tx, b.MealID)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBooking(string(models.StatusCancelled))
	s.publishEvent(events.EventBookingCancelled, booking, actor.UserID)
	s.enqueueSync(ctx, booking, models.SyncTaskUpdateStatus)
	return booking, nil
}

// MarkConsumed records that a booked meal was served. Staff roles only.
func (s *BookingService) MarkConsumed(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error) {
	if !actor.Role.IsStaff() {
		return nil, domain.Forbidden("booking", bookingID, fmt.Sprintf("role %s may not mark meals consumed", actor.Role))
	}

	var booking *models.Booking
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusBooked {
			return domain.InvalidTransition("booking", b.ID, string(b.Status), string(models.StatusConsumed))
		}
		now := s.now()
		b.ConsumedAt = &now
		if err := s.changeStatus(ctx, tx, b, models.StatusConsumed); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBooking(string(models.StatusConsumed))
	s.publishEvent(events.EventBookingConsumed, booking, actor.UserID)
	s.enqueueSync(ctx, booking, models.SyncTaskUpdateStatus)
	return booking, nil
}

// ConfirmPayment moves a pending booking to booked and records the payment
// reference. Repeating the call with the same reference returns the booking unchanged.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) (*models.Booking, error) {
	if paymentRef == "" {
		return nil, domain.Validation("payment reference is required")
	}

	var (
		booking *models.Booking
		changed bool
	)
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		booking = b
		if b.Status == models.StatusBooked && b.PaymentRef == paymentRef {
			return nil
		}
		if b.Status != models.StatusPending {
			return domain.InvalidTransition("booking", b.ID, string(b.Status), string(models.StatusBooked))
		}
		b.PaymentRef = paymentRef
		changed = true
		return s.changeStatus(ctx, tx, b, models.StatusBooked)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.IncBooking(string(models.StatusBooked))
		s.publishEvent(events.EventBookingConfirmed, booking, 0)
		s.enqueueSync(ctx, booking, models.SyncTaskUpdateStatus)
	}
	return booking, nil
}

// DeleteBooking is the admin removal of a live booking. The seat is freed.
func (s *BookingService) DeleteBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, domain.Forbidden("booking", bookingID, "only an admin may delete bookings")
	}

	var booking *models.Booking
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := s.changeStatus(ctx, tx, b, models.StatusDeleted); err != nil {
			return err
		}
		booking = b
		return s.ledger.Release(ctx, tx, b.MealID)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBooking(string(models.StatusDeleted))
	s.publishEvent(events.EventBookingDeleted, booking, actor.UserID)
	s.enqueueSync(ctx, booking, models.SyncTaskUpdateStatus)
	return booking, nil
}

// GetBooking returns a booking visible to the actor: its owner or any staff role.
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actor.UserID && !actor.Role.IsStaff() {
		return nil, domain.Forbidden("booking", bookingID, "not the owner")
	}
	return b, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return s.repo.ListUserBookings(ctx, userID)
}

func (s *BookingService) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	if to.Before(from) {
		return nil, domain.Validation("range end is before range start")
	}
	return s.repo.ListBookingsInRange(ctx, from, to)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, actorID int64) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:  booking.ID,
		UserID:     booking.UserID,
		MealID:     booking.MealID,
		Date:       booking.Date.Format(models.DateLayout),
		Slot:       string(booking.Slot),
		Status:     string(booking.Status),
		Price:      booking.Price.StringFixed(2),
		PaymentRef: booking.PaymentRef,
		ActorID:    actorID,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.syncWorker == nil {
		return
	}

	snapshot := *booking
	if err := s.syncWorker.EnqueueTask(ctx, taskType, &snapshot); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
