package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/vegasq/deltagate/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter for outbound catalog calls.
type Limiter struct {
	limiter *rate.Limiter
	client  string
	logger  *slog.Logger
}

// New creates a limiter. A non-positive perSecond disables limiting.
func New(perSecond float64, burst int, client string, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	var l *rate.Limiter
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Limiter{limiter: l, client: client, logger: logger}
}

// Wait blocks until a call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return ctx.Err()
	}
	start := time.Now()
	err := l.limiter.Wait(ctx)
	if elapsed := time.Since(start); err == nil && elapsed > time.Millisecond {
		metrics.RateLimitWaits.WithLabelValues(l.client).Inc()
		l.logger.Debug("rate limited", "client", l.client, "waited", elapsed)
	}
	return err
}
