package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type CreateMealRequest struct {
	Date     time.Time
	Slot     models.Slot
	Name     string
	Price    decimal.Decimal
	Capacity int64
}

// UpdateMealRequest carries optional changes; nil fields are left as they are.
type UpdateMealRequest struct {
	Name     *string
	Price    *decimal.Decimal
	Capacity *int64
}

// CatalogService manages meal offerings. It never touches booked_count.
type CatalogService struct {
	repo   domain.Repository
	ledger *Ledger
	logger *zerolog.Logger
}

func NewCatalogService(repo domain.Repository, ledger *Ledger, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{repo: repo, ledger: ledger, logger: logger}
}

func (s *CatalogService) CreateMeal(ctx context.Context, req CreateMealRequest) (*models.MealOffering, error) {
	if !req.Slot.Valid() {
		return nil, domain.Validation(fmt.Sprintf("unknown slot %q", req.Slot))
	}
	if req.Capacity < 0 {
		return nil, domain.Validation("capacity must not be negative")
	}
	if req.Price.IsNegative() {
		return nil, domain.Validation("price must not be negative")
	}

	meal := &models.MealOffering{
		Date:        startOfDay(req.Date),
		Slot:        req.Slot,
		Name:        req.Name,
		Price:       req.Price,
		Capacity:    req.Capacity,
		IsAvailable: true,
	}
	if err := s.repo.CreateMeal(ctx, meal); err != nil {
		return nil, err
	}
	return meal, nil
}

// UpdateMeal changes catalog fields. Price changes do not affect existing bookings.
func (s *CatalogService) UpdateMeal(ctx context.Context, mealID int64, req UpdateMealRequest) (*models.MealOffering, error) {
	var meal *models.MealOffering
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		m, err := tx.GetMeal(ctx, mealID)
		if err != nil {
			return err
		}
		if req.Name != nil {
			m.Name = *req.Name
		}
		if req.Price != nil {
			if req.Price.IsNegative() {
				return domain.Validation("price must not be negative")
			}
			m.Price = *req.Price
		}
		if req.Capacity != nil {
			if *req.Capacity < m.BookedCount {
				return domain.Validation(fmt.Sprintf("capacity %d is below the %d seats already booked", *req.Capacity, m.BookedCount))
			}
			m.Capacity = *req.Capacity
		}
		meal = m
		return tx.UpdateMeal(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return meal, nil
}

func (s *CatalogService) SetAvailability(ctx context.Context, mealID int64, available bool) error {
	if err := s.repo.SetMealAvailability(ctx, mealID, available); err != nil {
		return err
	}
	s.logger.Info().Int64("meal_id", mealID).Bool("available", available).Msg("Meal availability changed")
	return nil
}

func (s *CatalogService) ListMeals(ctx context.Context, date time.Time) ([]*models.MealOffering, error) {
	return s.repo.ListMealsByDate(ctx, startOfDay(date))
}

func (s *CatalogService) ListAvailability(ctx context.Context, date time.Time) ([]models.Availability, error) {
	meals, err := s.ListMeals(ctx, date)
	if err != nil {
		return nil, err
	}
	out := make([]models.Availability, 0, len(meals))
	for _, m := range meals {
		out = append(out, availabilityOf(m))
	}
	return out, nil
}

func (s *CatalogService) GetAvailability(ctx context.Context, mealID int64) (*models.Availability, error) {
	return s.ledger.Availability(ctx, mealID)
}

// LoadMenu reads a weekly menu YAML file.
func LoadMenu(path string) (*models.WeeklyMenu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu: %w", err)
	}
	var menu models.WeeklyMenu
	if err := yaml.Unmarshal(data, &menu); err != nil {
		return nil, fmt.Errorf("parse menu: %w", err)
	}
	for day, items := range menu.Days {
		if _, ok := weekdayByName[strings.ToLower(day)]; !ok {
			return nil, fmt.Errorf("menu: unknown weekday %q", day)
		}
		for _, item := range items {
			if !item.Slot.Valid() {
				return nil, fmt.Errorf("menu: %s has unknown slot %q", day, item.Slot)
			}
			if _, err := decimal.NewFromString(item.Price); err != nil {
				return nil, fmt.Errorf("menu: %s %s price %q: %w", day, item.Slot, item.Price, err)
			}
		}
	}
	return &menu, nil
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStart returns the Monday of the week containing t.
func WeekStart(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// SeedWeek creates the menu's offerings for the seven days from weekStart.
// Slots that already have an offering are skipped. It returns the number created.
func (s *CatalogService) SeedWeek(ctx context.Context, menu *models.WeeklyMenu, weekStart time.Time) (int, error) {
	from := startOfDay(weekStart)
	to := from.AddDate(0, 0, 6)

	existing, err := s.repo.ListMealsInRange(ctx, from, to)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, m := range existing {
		have[m.Date.Format(models.DateLayout)+"/"+string(m.Slot)] = true
	}

	created := 0
	for name, items := range menu.Days {
		wd := weekdayByName[strings.ToLower(name)]
		date := from.AddDate(0, 0, (int(wd)+6)%7)
		for _, item := range items {
			if have[date.Format(models.DateLayout)+"/"+string(item.Slot)] {
				continue
			}
			price, err := decimal.NewFromString(item.Price)
			if err != nil {
				return created, domain.Validation(fmt.Sprintf("menu price %q", item.Price))
			}
			_, err = s.CreateMeal(ctx, CreateMealRequest{
				Date:     date,
				Slot:     item.Slot,
				Name:     item.Name,
				Price:    price,
				Capacity: item.Capacity,
			})
			if err != nil {
				return created, err
			}
			created++
		}
	}

	s.logger.Info().Str("week", from.Format(models.DateLayout)).Int("created", created).Msg("Weekly menu seeded")
	return created, nil
}
