package models

import "time"

type PromotionStatus string

const (
	PromotionPending  PromotionStatus = "pending"
	PromotionApproved PromotionStatus = "approved"
	PromotionRejected PromotionStatus = "rejected"
)

// PromotionRequest is the audit record of one role promotion attempt.
// Records are never deleted.
type PromotionRequest struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	RequestedRole Role            `json:"requested_role"`
	Status        PromotionStatus `json:"status"`
	ActorID       *int64          `json:"actor_id,omitempty"`
	ActionedAt    *time.Time      `json:"actioned_at,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	NotificationPromotionRequested = "promotion_requested"
	NotificationPromotionApproved  = "promotion_approved"
	NotificationPromotionRejected  = "promotion_rejected"
)

type Notification struct {
	ID            int64     `json:"id"`
	RecipientRole Role      `json:"recipient_role"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	RefUserID     int64     `json:"ref_user_id,omitempty"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}
