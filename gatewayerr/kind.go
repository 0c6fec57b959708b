package gatewayerr

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies an error chain into one taxonomy class.
type Kind string

const (
	KindNone           Kind = ""
	KindNotFound       Kind = "not_found"
	KindUnauthorized   Kind = "unauthorized"
	KindUnavailable    Kind = "unavailable"
	KindInvalidRequest Kind = "invalid_request"
	KindQuery          Kind = "query_error"
	KindExecution      Kind = "execution_error"
	KindConflict       Kind = "conflict"
	KindCanceled       Kind = "canceled"
	KindInternal       Kind = "internal"
)

// KindOf returns the class of the outermost taxonomy error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		notFound     *NotFoundError
		unauthorized *UnauthorizedError
		unavailable  *UnavailableError
		invalid      *InvalidRequestError
		queryErr     *QueryError
		execErr      *ExecutionError
		conflict     *ConflictError
	)
	switch {
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &unauthorized):
		return KindUnauthorized
	case errors.As(err, &invalid):
		return KindInvalidRequest
	case errors.As(err, &queryErr):
		return KindQuery
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &execErr):
		return KindExecution
	case errors.As(err, &unavailable):
		return KindUnavailable
	case errors.Is(err, ErrCredentialExpired):
		return KindUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}

// HTTPStatus maps err onto the status code the HTTP layer reports.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidRequest, KindQuery:
		return http.StatusBadRequest
	case KindExecution:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Retryable reports whether err is a transient class.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
