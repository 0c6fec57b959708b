package gatewayerr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vegasq/deltagate/gatewayerr"
)

func TestNotFoundError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("TABLE_DOES_NOT_EXIST")
	err := &gatewayerr.NotFoundError{Table: "main.sales.orders", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should match underlying cause via Unwrap")
	}
	want := "table main.sales.orders not found: TABLE_DOES_NOT_EXIST"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestUnauthorizedError_Message(t *testing.T) {
	err := &gatewayerr.UnauthorizedError{Table: "a.b.c", Mode: "READ_WRITE"}
	want := "access denied to a.b.c for READ_WRITE"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestQueryError_Fragment(t *testing.T) {
	err := &gatewayerr.QueryError{Query: "SELEC 1", Fragment: "SELEC", Err: errors.New("expected SELECT")}
	want := `query error near "SELEC": expected SELECT`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   gatewayerr.Kind
		status int
	}{
		{"nil", nil, gatewayerr.KindNone, http.StatusOK},
		{"not found", &gatewayerr.NotFoundError{Table: "x"}, gatewayerr.KindNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("bind: %w", &gatewayerr.NotFoundError{Table: "x"}), gatewayerr.KindNotFound, http.StatusNotFound},
		{"unauthorized", &gatewayerr.UnauthorizedError{Table: "x"}, gatewayerr.KindUnauthorized, http.StatusForbidden},
		{"unavailable", &gatewayerr.UnavailableError{Service: "catalog", Err: errors.New("eof")}, gatewayerr.KindUnavailable, http.StatusServiceUnavailable},
		{"invalid", gatewayerr.Invalid("rows must not be empty"), gatewayerr.KindInvalidRequest, http.StatusBadRequest},
		{"query", &gatewayerr.QueryError{Err: errors.New("bad")}, gatewayerr.KindQuery, http.StatusBadRequest},
		{"execution", &gatewayerr.ExecutionError{Err: errors.New("bad")}, gatewayerr.KindExecution, http.StatusUnprocessableEntity},
		{"conflict", &gatewayerr.ConflictError{Table: "t", Version: 3, Err: errors.New("exists")}, gatewayerr.KindConflict, http.StatusConflict},
		{"expired", fmt.Errorf("open: %w", gatewayerr.ErrCredentialExpired), gatewayerr.KindUnauthorized, http.StatusForbidden},
		{"canceled", context.Canceled, gatewayerr.KindCanceled, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), gatewayerr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gatewayerr.KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %q, want %q", got, tt.kind)
			}
			if got := gatewayerr.HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !gatewayerr.Retryable(&gatewayerr.UnavailableError{Service: "catalog", Err: errors.New("503")}) {
		t.Error("unavailable should be retryable")
	}
	if gatewayerr.Retryable(&gatewayerr.ConflictError{Err: errors.New("x")}) {
		t.Error("conflict should not be retryable")
	}
}
