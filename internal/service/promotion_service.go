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
)

// PromotionService runs the role promotion state machine:
// awaiting setup -> pending approval -> requested role, or back to awaiting setup.
// Callers are expected to have checked that approve and reject come from an admin.
type PromotionService struct {
	repo         domain.Repository
	eventBus     domain.EventPublisher
	awaitingRole models.Role
	caps         map[models.Role]int
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewPromotionService(repo domain.Repository, eventBus domain.EventPublisher, cfg config.RolesConfig, logger *zerolog.Logger) *PromotionService {
	awaiting := cfg.AwaitingSetup
	if awaiting == "" {
		awaiting = models.RoleAwaitingSetup
	}
	return &PromotionService{
		repo:         repo,
		eventBus:     eventBus,
		awaitingRole: awaiting,
		caps:         cfg.Caps,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *PromotionService) checkCap(ctx context.Context, users domain.UserStore, role models.Role) error {
	limit := s.caps[role]
	if limit <= 0 {
		return nil
	}
	count, err := users.CountUsersByRole(ctx, role)
	if err != nil {
		return err
	}
	if count >= limit {
		return domain.LimitExceeded(fmt.Sprintf("role %s is capped at %d holders", role, limit))
	}
	return nil
}

// RequestPromotion moves a user in the awaiting-setup role to pending approval
// and opens an audit record for the requested role.
func (s *PromotionService) RequestPromotion(ctx context.Context, userID int64, requestedRole models.Role) (*models.PromotionRequest, error) {
	if !requestedRole.IsElevated() {
		return nil, domain.Validation(fmt.Sprintf("role %q cannot be requested", requestedRole))
	}

	var (
		req  *models.PromotionRequest
		user *models.User
	)
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.Role != s.awaitingRole {
			return domain.InvalidTransition("user", userID, string(u.Role), string(models.RolePendingApproval))
		}
		if err := s.checkCap(ctx, tx, requestedRole); err != nil {
			return err
		}
		if err := tx.UpdateUserRole(ctx, userID, models.RolePendingApproval, requestedRole); err != nil {
			return err
		}

		r := &models.PromotionRequest{UserID: userID, RequestedRole: requestedRole, Status: models.PromotionPending}
		if err := tx.CreatePromotionRequest(ctx, r); err != nil {
			return err
		}
		req, user = r, u
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPromotion("requested")
	s.logger.Info().Int64("user_id", userID).Str("requested_role", string(requestedRole)).Msg("Promotion requested")
	s.publishEvent(events.EventPromotionRequested, req, user.Name)
	return req, nil
}

// ApprovePromotion grants the requested role. The role cap is checked again
// because other requests may have been approved since this one was filed.
func (s *PromotionService) ApprovePromotion(ctx context.Context, userID, adminID int64) (*models.PromotionRequest, error) {
	var req *models.PromotionRequest
	var name string
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		r, err := tx.GetPendingPromotion(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.checkCap(ctx, tx, r.RequestedRole); err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.UpdateUserRole(ctx, userID, r.RequestedRole, ""); err != nil {
			return err
		}
		s.resolve(r, models.PromotionApproved, adminID, "")
		if err := tx.ResolvePromotionRequest(ctx, r); err != nil {
			return err
		}
		req, name = r, u.Name
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPromotion("approved")
	s.logger.Info().Int64("user_id", userID).Int64("admin_id", adminID).Str("role", string(req.RequestedRole)).Msg("Promotion approved")
	s.publishEvent(events.EventPromotionApproved, req, name)
	return req, nil
}

// RejectPromotion returns the user to the awaiting-setup role.
func (s *PromotionService) RejectPromotion(ctx context.Context, userID, adminID int64, reason string) (*models.PromotionRequest, error) {
	var req *models.PromotionRequest
	var name string
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		r, err := tx.GetPendingPromotion(ctx, userID)
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.UpdateUserRole(ctx, userID, s.awaitingRole, ""); err != nil {
			return err
		}
		s.resolve(r, models.PromotionRejected, adminID, reason)
		if err := tx.ResolvePromotionRequest(ctx, r); err != nil {
			return err
		}
		req, name = r, u.Name
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPromotion("rejected")
	s.logger.Info().Int64("user_id", userID).Int64("admin_id", adminID).Str("reason", reason).Msg("Promotion rejected")
	s.publishEvent(events.EventPromotionRejected, req, name)
	return req, nil
}

func (s *PromotionService) resolve(r *models.PromotionRequest, status models.PromotionStatus, adminID int64, reason string) {
	now := s.now()
	actor := adminID
	r.Status = status
	r.ActorID = &actor
	r.ActionedAt = &now
	r.Reason = reason
}

// ListRequests lists audit records, optionally filtered by status.
func (s *PromotionService) ListRequests(ctx context.Context, status models.PromotionStatus) ([]*models.PromotionRequest, error) {
	switch status {
	case "", models.PromotionPending, models.PromotionApproved, models.PromotionRejected:
	default:
		return nil, domain.Validation(fmt.Sprintf("unknown promotion status %q", status))
	}
	return s.repo.ListPromotionRequests(ctx, status)
}

func (s *PromotionService) publishEvent(eventType string, req *models.PromotionRequest, userName string) {
	if s.eventBus == nil {
		return
	}

	payload := events.PromotionEventPayload{
		RequestID:     req.ID,
		UserID:        req.UserID,
		UserName:      userName,
		RequestedRole: string(req.RequestedRole),
		Status:        string(req.Status),
		Reason:        req.Reason,
	}
	if req.ActorID != nil {
		payload.ActorID = *req.ActorID
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("user_id", req.UserID).Msg("publish event error")
	}
}
