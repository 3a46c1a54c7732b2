package identity

import (
	"errors"
	"net/http"

	"github.com/SlpAus/agm-voting-backend/internal/event"
)

var (
	ErrMissingFields  = errors.New("missing fields")
	ErrNotFound       = errors.New("voter not found")
	ErrAlreadyVoted   = errors.New("voter has already cast a ballot")
	ErrEventInactive  = errors.New("event is not active")
	ErrInvalidOrUsed  = errors.New("redirect code invalid or already used")
	ErrInvalidOrSpent = errors.New("anonymous session invalid or already spent")
	ErrAlreadySpent   = errors.New("anonymous session already spent")
	ErrExpired        = errors.New("anonymous session expired")
	ErrDuplicateVoter = errors.New("voter already registered")
	ErrForbidden      = errors.New("forbidden")
)

// 对外的错误码
const (
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "not_found"
	CodeAlreadyVoted   = "already_voted"
	CodeEventInactive  = "event_inactive"
	CodeInvalidOrUsed  = "invalid_or_used"
	CodeInvalidOrSpent = "invalid_or_spent"
	CodeAlreadySpent   = "already_spent"
	CodeExpired        = "expired"
	CodeDuplicateVoter = "duplicate_voter"
	CodeForbidden      = "forbidden"
	CodeInternal       = "internal_error"
)

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrMissingFields, CodeBadRequest, http.StatusBadRequest},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{event.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrAlreadyVoted, CodeAlreadyVoted, http.StatusBadRequest},
	{ErrEventInactive, CodeEventInactive, http.StatusForbidden},
	{ErrInvalidOrUsed, CodeInvalidOrUsed, http.StatusBadRequest},
	{ErrInvalidOrSpent, CodeInvalidOrSpent, http.StatusBadRequest},
	{ErrAlreadySpent, CodeAlreadySpent, http.StatusBadRequest},
	{ErrExpired, CodeExpired, http.StatusBadRequest},
	{ErrDuplicateVoter, CodeDuplicateVoter, http.StatusConflict},
	{ErrForbidden, CodeForbidden, http.StatusForbidden},
}

// ErrorCode 把一个错误映射为HTTP状态码和对外错误码
func ErrorCode(err error) (int, string) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorFromCode 是 ErrorCode 的逆映射，供服务间客户端还原类型化错误。
// 未知错误码返回 nil。
func ErrorFromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
