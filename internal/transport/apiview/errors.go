package apiview

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
)

// Коды ошибок в теле ответа.
const (
	CodeValidation       = "validation_error"
	CodeBusinessRule     = "business_rule_violation"
	CodeUnauthenticated  = "unauthenticated"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeIdempotencyReuse = "idempotency_key_reused"
	CodeInProgress       = "request_in_progress"
	CodeInternal         = "internal_error"
)

const internalMessage = "internal server error"

// ErrorBody: тело ответа с ошибкой. Одинаково для HTTP и gRPC.
type ErrorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Problem: классифицированная ошибка: HTTP-статус и тело ответа.
type Problem struct {
	Status int
	Body   ErrorBody
}

// Internal сообщает, что ошибка не ожидалась и должна попасть в лог.
func (p Problem) Internal() bool {
	return p.Status >= http.StatusInternalServerError
}

// Classify сопоставляет ошибку сервиса статусу ответа. Текст внутренних
// ошибок наружу не отдаётся.
func Classify(err error) Problem {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return Problem{Status: http.StatusBadRequest, Body: ErrorBody{Error: CodeValidation, Message: "validation failed", Fields: ve.Fields}}
	case domain.IsBusinessRule(err):
		return Problem{Status: http.StatusBadRequest, Body: ErrorBody{Error: CodeBusinessRule, Message: err.Error()}}
	case errors.Is(err, domain.ErrUnauthenticated):
		return Problem{Status: http.StatusUnauthorized, Body: ErrorBody{Error: CodeUnauthenticated, Message: "authentication required"}}
	case errors.Is(err, domain.ErrForbidden):
		return Problem{Status: http.StatusForbidden, Body: ErrorBody{Error: CodeForbidden, Message: err.Error()}}
	case domain.IsNotFound(err):
		return Problem{Status: http.StatusNotFound, Body: ErrorBody{Error: CodeNotFound, Message: err.Error()}}
	case errors.Is(err, idempotency.ErrKeyReused):
		return Problem{Status: http.StatusConflict, Body: ErrorBody{Error: CodeIdempotencyReuse, Message: err.Error()}}
	case errors.Is(err, idempotency.ErrInProgress):
		return Problem{Status: http.StatusConflict, Body: ErrorBody{Error: CodeInProgress, Message: err.Error()}}
	case domain.IsConflict(err):
		return Problem{Status: http.StatusConflict, Body: ErrorBody{Error: CodeConflict, Message: err.Error()}}
	default:
		return Problem{Status: http.StatusInternalServerError, Body: ErrorBody{Error: CodeInternal, Message: internalMessage}}
	}
}
