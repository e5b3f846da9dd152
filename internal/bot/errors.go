package bot

import (
	"errors"

	"messhall/internal/domain"
)

var errNotRegistered = errors.New("not registered")

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, errNotRegistered) {
		return "Send /start first so I know who you are."
	}

	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		return "⚠️ Not found. It may have been removed or never existed."
	case domain.ErrUnavailable:
		return "⚠️ That meal is closed for booking."
	case domain.ErrDuplicateBooking:
		return "⚠️ You already have a booking for that meal."
	case domain.ErrCapacityExceeded:
		return "⚠️ Sorry, that meal is fully booked."
	case domain.ErrInvalidTransition:
		return "⚠️ That booking can no longer be changed."
	case domain.ErrForbidden:
		return "⛔ You are not allowed to do that."
	case domain.ErrLimitExceeded:
		return "⚠️ That role has no free places right now."
	case domain.ErrRateLimited:
		return "⚠️ Too many booking attempts. Try again shortly."
	case domain.ErrValidation:
		var de *domain.Error
		if errors.As(err, &de) && de.Detail != "" {
			return "⚠️ " + de.Detail
		}
		return "⚠️ Invalid request."
	case domain.ErrConcurrentModification:
		return "⚠️ The booking changed while saving. Please try again."
	}
	return "❌ Something went wrong. Please try again later."
}
