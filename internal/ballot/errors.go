package ballot

import (
	"errors"
	"net/http"

	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/internal/identity"
)

var (
	ErrBadRequest       = errors.New("malformed request")
	ErrSessionExpired   = errors.New("anonymous session missing or mismatched")
	ErrNoSegments       = errors.New("no segments configured")
	ErrInvalidSegment   = errors.New("segment does not belong to event")
	ErrInvalidCandidate = errors.New("candidate does not belong to segment")
	ErrDuplicateChoice  = errors.New("choice submitted more than once")
)

// ErrorCode 把投票箱与通道返回的错误映射为HTTP状态码和错误码
func ErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrSessionExpired):
		return http.StatusForbidden, "session_expired"
	case errors.Is(err, ErrNoSegments):
		return http.StatusBadRequest, "no_segments"
	case errors.Is(err, ErrInvalidSegment):
		return http.StatusBadRequest, "invalid_segment"
	case errors.Is(err, ErrInvalidCandidate):
		return http.StatusBadRequest, "invalid_candidate"
	case errors.Is(err, ErrDuplicateChoice):
		return http.StatusBadRequest, "duplicate_choice"
	case errors.Is(err, event.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	return identity.ErrorCode(err)
}
