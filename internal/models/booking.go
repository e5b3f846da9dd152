package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusBooked    BookingStatus = "booked"
	StatusConsumed  BookingStatus = "consumed"
	StatusCancelled BookingStatus = "cancelled"
	StatusDeleted   BookingStatus = "deleted"
)

// transitions is the only place booking status changes are allowed.
var transitions = map[BookingStatus][]BookingStatus{
	StatusPending: {StatusBooked, StatusCancelled, StatusDeleted},
	StatusBooked:  {StatusConsumed, StatusCancelled, StatusDeleted},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// HoldsSeat reports whether a booking in this status counts toward the
// one-booking-per-user-per-meal rule.
func (s BookingStatus) HoldsSeat() bool {
	return s == StatusPending || s == StatusBooked || s == StatusConsumed
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBooked, StatusConsumed, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

type Booking struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	MealID         int64           `json:"meal_id"`
	Date           time.Time       `json:"date"`
	Slot           Slot            `json:"slot"`
	Price          decimal.Decimal `json:"price"`
	Status         BookingStatus   `json:"status"`
	SpecialRequest string          `json:"special_request,omitempty"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ConsumedAt     *time.Time      `json:"consumed_at,omitempty"`
	Version        int64           `json:"version"`
}
