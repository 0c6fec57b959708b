package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/vegasq/deltagate/catalog")

// Resolver turns fully-qualified table names into table handles by calling
// the catalog's table-loading capability. It holds no state between calls
// and never retries.
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver creates a Resolver over cat.
func NewResolver(cat Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog: cat,
		logger:  logger.With("component", "resolver"),
		now:     time.Now,
	}
}

// Resolve loads name for mode. Errors from the catalog are returned as-is;
// on cancellation the context error is returned and nothing is produced.
func (r *Resolver) Resolve(ctx context.Context, name string, mode AccessMode) (TableHandle, error) {
	tn, err := ParseTableName(name)
	if err != nil {
		return TableHandle{}, err
	}

	ctx, span := tracer.Start(ctx, "catalog.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("table", tn.String()), attribute.String("mode", mode.String()))

	if err := ctx.Err(); err != nil {
		return TableHandle{}, err
	}

	start := time.Now()
	handle, err := r.catalog.LoadTable(ctx, tn, mode)
	metrics.CatalogDuration.WithLabelValues("load_table").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CatalogRequests.WithLabelValues("load_table", string(gatewayerr.KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.DebugContext(ctx, "resolve failed", "table", tn.String(), "mode", mode.String(), "error", err)
		return TableHandle{}, err
	}
	if err := ctx.Err(); err != nil {
		return TableHandle{}, err
	}
	metrics.CatalogRequests.WithLabelValues("load_table", "ok").Inc()

	if handle.Name == "" {
		handle.Name = tn.String()
	}
	handle.Mode = mode
	if !handle.Usable(r.now()) {
		return TableHandle{}, &gatewayerr.UnavailableError{Service: "catalog", Err: gatewayerr.ErrCredentialExpired}
	}

	r.logger.DebugContext(ctx, "resolved table",
		"table", handle.Name,
		"mode", mode.String(),
		"location", handle.Location,
		"expires_at", handle.Credential.ExpiresAt,
	)
	return handle, nil
}
