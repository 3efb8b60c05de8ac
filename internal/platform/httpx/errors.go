package httpx

import (
	"errors"
	"net/http"

	"github.com/potatospin/potatospin/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
)

var statusByKind = []struct {
	err    error
	status int
	title  string
}{
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrUnauthenticated, http.StatusUnauthorized, "Unauthenticated"},
	{shared.ErrInvalidArgument, http.StatusBadRequest, "InvalidArgument"},
	{shared.ErrUnauthorized, http.StatusForbidden, "Unauthorized"},
	{shared.ErrNotFound, http.StatusNotFound, "NotFound"},
	{shared.ErrInsufficientBalance, http.StatusConflict, "InsufficientBalance"},
	{shared.ErrCapacityExceeded, http.StatusConflict, "CapacityExceeded"},
	{shared.ErrInvalidOperation, http.StatusConflict, "InvalidOperation"},
	{shared.ErrOverflow, http.StatusUnprocessableEntity, "Overflow"},
	{shared.ErrPaused, http.StatusLocked, "Paused"},
	{shared.ErrAuditUnavailable, http.StatusServiceUnavailable, "AuditUnavailable"},
}

// StatusOf returns the HTTP status and problem title for err.
func StatusOf(err error) (int, string) {
	for _, k := range statusByKind {
		if errors.Is(err, k.err) {
			return k.status, k.title
		}
	}
	return http.StatusInternalServerError, "Internal Error"
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusOf(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}
