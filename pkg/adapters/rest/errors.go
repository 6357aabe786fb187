package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/audiencia/pkg/domain"
)

// Error codes carried in error bodies.
const (
	CodeNotFound         = "not_found"
	CodeInvalidCode      = "invalid_code"
	CodeNoRole           = "no_role"
	CodeValidation       = "validation"
	CodeStaleTurn        = "stale_turn"
	CodeAlreadyConfirmed = "already_confirmed"
	CodeUnauthorized     = "unauthorized"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var codeErrors = map[string]error{
	CodeNotFound:         domain.ErrNotFound,
	CodeInvalidCode:      domain.ErrInvalidCode,
	CodeNoRole:           domain.ErrNoRoleForUser,
	CodeValidation:       domain.ErrValidation,
	CodeStaleTurn:        domain.ErrStaleTurn,
	CodeAlreadyConfirmed: domain.ErrAlreadyConfirmed,
}

// StatusFor maps a domain error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		return http.StatusNotFound, CodeInvalidCode
	case errors.Is(err, domain.ErrNoRoleForUser):
		return http.StatusNotFound, CodeNoRole
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrStaleTurn):
		return http.StatusConflict, CodeStaleTurn
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		return http.StatusConflict, CodeAlreadyConfirmed
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, CodeValidation
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorFor maps a response back into the domain taxonomy.
func errorFor(op string, status int, body ErrorBody) error {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if sentinel, ok := codeErrors[body.Code]; ok {
		return fmt.Errorf("%s: %w: %s", op, sentinel, msg)
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrNotFound, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrValidation, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrValidation, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrStaleTurn, msg)
	default:
		return domain.Transient(op, fmt.Errorf("status %d: %s", status, msg))
	}
}
