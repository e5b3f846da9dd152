package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the booking and promotion workflows. Compare with
// errors.Is; the concrete *Error carries the offending entity and id.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("unavailable")
	ErrDuplicateBooking  = errors.New("duplicate booking")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrValidation        = errors.New("validation error")
	ErrStorage           = errors.New("storage error")

	// ErrConcurrentModification is returned by versioned updates that lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")
)

var kinds = []error{
	ErrNotFound,
	ErrUnavailable,
	ErrDuplicateBooking,
	ErrCapacityExceeded,
	ErrInvalidTransition,
	ErrForbidden,
	ErrLimitExceeded,
	ErrRateLimited,
	ErrValidation,
	ErrConcurrentModification,
	ErrStorage,
}

type Error struct {
	Kind   error
	Entity string
	ID     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s", e.Entity, msg)
		if e.ID != "" {
			msg = fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Kind.Error())
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, entity string, id any, detail string) *Error {
	e := &Error{Kind: kind, Entity: entity, Detail: detail}
	if id != nil {
		e.ID = fmt.Sprint(id)
	}
	return e
}

func NotFound(entity string, id any) error {
	return newError(ErrNotFound, entity, id, "")
}

func Unavailable(entity string, id any) error {
	return newError(ErrUnavailable, entity, id, "")
}

func DuplicateBooking(userID, mealID int64) error {
	return newError(ErrDuplicateBooking, "meal", mealID, fmt.Sprintf("user %d already holds a booking", userID))
}

func CapacityExceeded(mealID int64, detail string) error {
	return newError(ErrCapacityExceeded, "meal", mealID, detail)
}

func InvalidTransition(entity string, id any, from, to string) error {
	return newError(ErrInvalidTransition, entity, id, fmt.Sprintf("%s -> %s", from, to))
}

func Forbidden(entity string, id any, detail string) error {
	return newError(ErrForbidden, entity, id, detail)
}

func LimitExceeded(detail string) error {
	return newError(ErrLimitExceeded, "", nil, detail)
}

func RateLimited(key string) error {
	return newError(ErrRateLimited, "", nil, key)
}

func Validation(detail string) error {
	return newError(ErrValidation, "", nil, detail)
}

// Storage wraps a persistence failure. Domain errors pass through unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: ErrStorage, Detail: op, Err: err}
}

// KindOf returns the sentinel kind of err, or nil when err is not a domain error.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
