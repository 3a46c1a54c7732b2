package motion

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/SlpAus/agm-voting-backend/internal/event"
)

var (
	ErrNotFound          = errors.New("motion not found")
	ErrMissingTitle      = errors.New("motion title is required")
	ErrDuplicateOrder    = errors.New("display order already used")
	ErrInactiveSession   = errors.New("event is not active")
	ErrUnauthorized      = errors.New("participant identity missing")
	ErrMotionClosed      = errors.New("motion is not open")
	ErrInvalidChoice     = errors.New("invalid choice")
	ErrVoteLocked        = errors.New("vote already recorded and changes are disabled")
	ErrAnotherMotionOpen = errors.New("another motion is open")
	ErrNotOpen           = errors.New("timer requires an open motion")
	ErrMissingSeconds    = errors.New("seconds or extend is required")
	ErrInvalidDirection  = errors.New("direction must be up or down")
)

// LockedError 携带已记录的选择
type LockedError struct {
	Choice string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVoteLocked, e.Choice)
}

func (e *LockedError) Is(target error) bool { return target == ErrVoteLocked }

// ErrorCode 把动议错误映射为HTTP状态码和错误码
func ErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, event.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrMissingTitle):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrDuplicateOrder):
		return http.StatusConflict, "duplicate_order"
	case errors.Is(err, ErrInactiveSession):
		return http.StatusForbidden, "inactive_session"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrInvalidChoice):
		return http.StatusBadRequest, "invalid_choice"
	case errors.Is(err, ErrMotionClosed):
		return http.StatusForbidden, "motion_closed"
	case errors.Is(err, ErrVoteLocked):
		return http.StatusForbidden, "vote_locked"
	case errors.Is(err, ErrAnotherMotionOpen):
		return http.StatusBadRequest, "motion_open"
	case errors.Is(err, ErrNotOpen):
		return http.StatusBadRequest, "not_open"
	case errors.Is(err, ErrMissingSeconds):
		return http.StatusBadRequest, "missing_seconds"
	case errors.Is(err, ErrInvalidDirection):
		return http.StatusBadRequest, "invalid_direction"
	}
	return http.StatusInternalServerError, "internal_error"
}
