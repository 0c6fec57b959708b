// Package unity is a catalog.Catalog backed by the Unity Catalog REST API.
//
// Table loading fetches the table metadata, checks that it is a governed
// Delta table, then requests temporary table credentials for the access
// mode. HTTP failures map onto the gatewayerr taxonomy: 404 is NotFound,
// 401/403 is Unauthorized, 429 and 5xx and transport errors are Unavailable.
package unity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/internal/ratelimit"
	"github.com/vegasq/deltagate/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const apiPrefix = "/api/2.1/unity-catalog"

// Config holds client settings.
type Config struct {
	Endpoint          string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client talks to one Unity Catalog endpoint. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a client. The configured token is used when the request
// context carries no caller identity.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("unity: endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("unity: parse endpoint: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst, "unity", logger),
		logger:  logger.With("component", "unity"),
		now:     time.Now,
	}, nil
}

// apiError is the error body returned by the catalog.
type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, subject string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := *c.base
	u.Path = c.base.Path + apiPrefix + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unity: marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("unity: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.token
	if id, ok := catalog.IdentityFrom(ctx); ok && id.Token != "" {
		token = id.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.CatalogDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.CatalogRequests.WithLabelValues(op, string(gatewayerr.KindUnavailable)).Inc()
		return &gatewayerr.UnavailableError{Service: "catalog", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &gatewayerr.UnavailableError{Service: "catalog", Err: fmt.Errorf("read %s response: %w", op, err)}
	}

	if resp.StatusCode >= 300 {
		mapped := mapStatus(resp.StatusCode, payload, subject)
		metrics.CatalogRequests.WithLabelValues(op, string(gatewayerr.KindOf(mapped))).Inc()
		c.logger.DebugContext(ctx, "catalog call failed", "op", op, "status", resp.StatusCode, "subject", subject)
		return mapped
	}
	metrics.CatalogRequests.WithLabelValues(op, "ok").Inc()

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &gatewayerr.UnavailableError{Service: "catalog", Err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}

func mapStatus(status int, payload []byte, subject string) error {
	var ae apiError
	_ = json.Unmarshal(payload, &ae)
	cause := fmt.Errorf("status %d", status)
	if ae.ErrorCode != "" || ae.Message != "" {
		cause = fmt.Errorf("status %d: %s: %s", status, ae.ErrorCode, ae.Message)
	}
	switch {
	case status == http.StatusNotFound:
		return &gatewayerr.NotFoundError{Table: subject, Err: cause}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gatewayerr.UnauthorizedError{Table: subject, Err: cause}
	case status == http.StatusTooManyRequests || status >= 500:
		return &gatewayerr.UnavailableError{Service: "catalog", Err: cause}
	case status == http.StatusConflict:
		return &gatewayerr.InvalidRequestError{Reason: subject + " already exists", Err: cause}
	}
	return &gatewayerr.InvalidRequestError{Reason: subject, Err: cause}
}
