package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createMealRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Slot     string `json:"slot" validate:"required,oneof=breakfast lunch snacks dinner"`
	Name     string `json:"name" validate:"required,max=120"`
	Price    string `json:"price" validate:"required,numeric"`
	Capacity int64  `json:"capacity" validate:"gte=0"`
}

type updateMealRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	Price    *string `json:"price" validate:"omitempty,numeric"`
	Capacity *int64  `json:"capacity" validate:"omitempty,gte=0"`
}

type availabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type createBookingRequest struct {
	MealID         int64  `json:"meal_id" validate:"required,gt=0"`
	SpecialRequest string `json:"special_request" validate:"max=500"`
}

type dayBookingRequest struct {
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	SpecialRequest string `json:"special_request" validate:"max=500"`
}

type weekBookingRequest struct {
	WeekStart      string `json:"week_start" validate:"required,datetime=2006-01-02"`
	SpecialRequest string `json:"special_request" validate:"max=500"`
}

type paymentRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required,max=128"`
}

type promotionRequest struct {
	RequestedRole string `json:"requested_role" validate:"required,oneof=mess_staff mess_supervisor admin"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// badRequest carries field-level validation failures.
type badRequest struct {
	msg    string
	fields map[string]string
}

func (e *badRequest) Error() string { return e.msg }

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &badRequest{msg: "invalid JSON body"}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &badRequest{msg: err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		fields[name] = fe.Tag()
		names = append(names, name)
	}
	return &badRequest{msg: "invalid fields: " + strings.Join(names, ", "), fields: fields}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, &badRequest{msg: fmt.Sprintf("invalid date %q; expected YYYY-MM-DD", s)}
	}
	return t, nil
}
