package service

import "messhall/internal/models"

// Actor is the authenticated principal performing an operation.
type Actor struct {
	UserID int64
	Role   models.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Operation names an action subject to access control.
type Operation string

const (
	OpListMeals         Operation = "meals.list"
	OpManageCatalog     Operation = "meals.manage"
	OpCreateBooking     Operation = "bookings.create"
	OpListOwnBookings   Operation = "bookings.list_own"
	OpCancelBooking     Operation = "bookings.cancel"
	OpMarkConsumed      Operation = "bookings.consume"
	OpConfirmPayment    Operation = "bookings.confirm_payment"
	OpDeleteBooking     Operation = "bookings.delete"
	OpRequestPromotion  Operation = "promotions.request"
	OpListPromotions    Operation = "promotions.list"
	OpApprovePromotion  Operation = "promotions.approve"
	OpRejectPromotion   Operation = "promotions.reject"
	OpListNotifications Operation = "notifications.list"
	OpExportReport      Operation = "reports.export"
)
