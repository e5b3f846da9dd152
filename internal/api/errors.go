package api

import (
	"net/http"

	"messhall/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// httpStatus maps a workflow error kind to a response code.
func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrDuplicateBooking, domain.ErrCapacityExceeded, domain.ErrInvalidTransition,
		domain.ErrLimitExceeded, domain.ErrConcurrentModification, domain.ErrUnavailable:
		return http.StatusConflict
	case domain.ErrValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func grpcError(err error) error {
	var code codes.Code
	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		code = codes.NotFound
	case domain.ErrValidation:
		code = codes.InvalidArgument
	case domain.ErrForbidden:
		code = codes.PermissionDenied
	case domain.ErrRateLimited:
		code = codes.ResourceExhausted
	case domain.ErrDuplicateBooking, domain.ErrInvalidTransition, domain.ErrConcurrentModification:
		code = codes.Aborted
	case domain.ErrCapacityExceeded, domain.ErrLimitExceeded, domain.ErrUnavailable:
		code = codes.FailedPrecondition
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// publicMessage hides storage causes from clients.
func publicMessage(err error) string {
	switch kind := domain.KindOf(err); kind {
	case nil, domain.ErrStorage:
		return "internal error"
	case domain.ErrConcurrentModification:
		return kind.Error()
	}
	return err.Error()
}
