package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Slot string

const (
	SlotBreakfast Slot = "breakfast"
	SlotLunch     Slot = "lunch"
	SlotSnacks    Slot = "snacks"
	SlotDinner    Slot = "dinner"
)

// Slots lists meal slots in serving order.
var Slots = []Slot{SlotBreakfast, SlotLunch, SlotSnacks, SlotDinner}

func (s Slot) Valid() bool {
	for _, v := range Slots {
		if v == s {
			return true
		}
	}
	return false
}

// Order returns the serving position of the slot, or len(Slots) if unknown.
func (s Slot) Order() int {
	for i, v := range Slots {
		if v == s {
			return i
		}
	}
	return len(Slots)
}

// MealOffering is one servable meal for a date and slot.
type MealOffering struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	Slot        Slot            `json:"slot"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Capacity    int64           `json:"capacity"`
	BookedCount int64           `json:"booked_count"`
	IsAvailable bool            `json:"is_available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Remaining returns free seats, never negative.
func (m *MealOffering) Remaining() int64 {
	if m.BookedCount >= m.Capacity {
		return 0
	}
	return m.Capacity - m.BookedCount
}

func (m *MealOffering) IsFull() bool {
	return m.BookedCount >= m.Capacity
}

type Availability struct {
	MealID      int64     `json:"meal_id"`
	Date        time.Time `json:"date"`
	Slot        Slot      `json:"slot"`
	Capacity    int64     `json:"capacity"`
	Booked      int64     `json:"booked"`
	Available   int64     `json:"available"`
	IsAvailable bool      `json:"is_available"`
}

// MenuItem is one slot of the weekly menu used to seed offerings.
type MenuItem struct {
	Slot     Slot   `yaml:"slot"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Capacity int64  `yaml:"capacity"`
}

// WeeklyMenu maps a lowercase weekday name ("monday") to its slots.
type WeeklyMenu struct {
	Days map[string][]MenuItem `yaml:"days"`
}
