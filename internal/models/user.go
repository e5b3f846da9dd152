package models

import "time"

type Role string

const (
	RoleStudent         Role = "student"
	RoleAwaitingSetup   Role = "awaiting_setup"
	RolePendingApproval Role = "pending_approval"
	RoleMessStaff       Role = "mess_staff"
	RoleMessSupervisor  Role = "mess_supervisor"
	RoleAdmin           Role = "admin"

	// RoleService identifies API-key clients such as the payment gateway.
	RoleService Role = "service"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAwaitingSetup, RolePendingApproval, RoleMessStaff, RoleMessSupervisor, RoleAdmin:
		return true
	}
	return false
}

// IsElevated reports whether the role can be obtained through promotion.
func (r Role) IsElevated() bool {
	return r == RoleMessStaff || r == RoleMessSupervisor || r == RoleAdmin
}

// IsStaff reports whether the role may serve meals.
func (r Role) IsStaff() bool {
	return r == RoleMessStaff || r == RoleMessSupervisor || r == RoleAdmin
}

type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	RequestedRole Role      `json:"requested_role,omitempty"`
	TelegramID    int64     `json:"telegram_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
