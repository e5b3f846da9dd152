// Package notify turns promotion events into stored admin notifications
// and optional Telegram alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	"messhall/internal/domain"
	"messhall/internal/events"
	"messhall/internal/models"

	"github.com/rs/zerolog"
)

const sendTimeout = 10 * time.Second

type Recorder struct {
	store    domain.NotificationStore
	notifier domain.Notifier
	logger   *zerolog.Logger
}

// NewRecorder builds a recorder. notifier may be nil.
func NewRecorder(store domain.NotificationStore, notifier domain.Notifier, logger *zerolog.Logger) *Recorder {
	return &Recorder{store: store, notifier: notifier, logger: logger}
}

// Subscribe registers the recorder for all promotion events.
func (r *Recorder) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventPromotionRequested, r.handle)
	bus.Subscribe(events.EventPromotionApproved, r.handle)
	bus.Subscribe(events.EventPromotionRejected, r.handle)
}

func (r *Recorder) handle(event *events.Event) error {
	var p events.PromotionEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}

	n := buildNotification(event.Type, p)
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := r.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if r.notifier != nil {
		text := fmt.Sprintf("*%s*\n%s", escape(n.Title), escape(n.Body))
		if err := r.notifier.NotifyAdmins(ctx, text); err != nil {
			r.logger.Warn().Err(err).Str("kind", n.Kind).Msg("admin alert not delivered")
		}
	}
	return nil
}

func displayName(p events.PromotionEventPayload) string {
	if p.UserName != "" {
		return fmt.Sprintf("%s (#%d)", p.UserName, p.UserID)
	}
	return fmt.Sprintf("user #%d", p.UserID)
}

func buildNotification(eventType string, p events.PromotionEventPayload) *models.Notification {
	n := &models.Notification{RecipientRole: models.RoleAdmin, RefUserID: p.UserID}
	who := displayName(p)

	switch eventType {
	case events.EventPromotionRequested:
		n.Kind = models.NotificationPromotionRequested
		n.Title = "Promotion requested"
		n.Body = fmt.Sprintf("%s asks for the %s role.", who, p.RequestedRole)
	case events.EventPromotionApproved:
		n.Kind = models.NotificationPromotionApproved
		n.Title = "Promotion approved"
		n.Body = fmt.Sprintf("%s is now %s (approved by #%d).", who, p.RequestedRole, p.ActorID)
	default:
		n.Kind = models.NotificationPromotionRejected
		n.Title = "Promotion rejected"
		n.Body = fmt.Sprintf("%s was refused the %s role by #%d.", who, p.RequestedRole, p.ActorID)
		if p.Reason != "" {
			n.Body += " Reason: " + p.Reason
		}
	}
	return n
}

// List returns notifications addressed to role.
func (r *Recorder) List(ctx context.Context, role models.Role, unreadOnly bool) ([]*models.Notification, error) {
	return r.store.ListNotifications(ctx, role, unreadOnly)
}

func (r *Recorder) MarkRead(ctx context.Context, id int64) error {
	return r.store.MarkNotificationRead(ctx, id)
}
