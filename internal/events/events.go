package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingConsumed  = "booking_consumed"
	EventBookingDeleted   = "booking_deleted"

	EventPromotionRequested = "promotion_requested"
	EventPromotionApproved  = "promotion_approved"
	EventPromotionRejected  = "promotion_rejected"
)

// BookingEventPayload is the booking snapshot sent to subscribers.
type BookingEventPayload struct {
	BookingID  int64  `json:"booking_id"`
	UserID     int64  `json:"user_id"`
	MealID     int64  `json:"meal_id"`
	Date       string `json:"date"`
	Slot       string `json:"slot"`
	Status     string `json:"status"`
	Price      string `json:"price"`
	PaymentRef string `json:"payment_ref,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
}

// PromotionEventPayload describes a promotion request state change.
type PromotionEventPayload struct {
	RequestID     int64  `json:"request_id"`
	UserID        int64  `json:"user_id"`
	UserName      string `json:"user_name,omitempty"`
	RequestedRole string `json:"requested_role"`
	Status        string `json:"status"`
	ActorID       int64  `json:"actor_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. Handlers run synchronously on the
// publisher's goroutine; a failing handler is logged and does not stop the rest.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
