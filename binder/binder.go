// Package binder turns the table identifiers referenced by a SQL text into
// lazy scans the query executor can read.
//
// Binding is all-or-nothing: every referenced table is resolved for READ
// through the credential cache, concurrently, and the first failure fails
// the whole bind. No scan touches storage until the query runs.
package binder

import (
	"context"
	"log/slog"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/metrics"
	"github.com/vegasq/deltagate/query"
	"github.com/vegasq/deltagate/storage"
	"github.com/vegasq/deltagate/tableformat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/vegasq/deltagate/binder")

// defaultParallelism bounds concurrent resolutions per bind.
const defaultParallelism = 8

// Cache is the handle lookup the binder resolves through.
type Cache interface {
	GetOrResolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error)
}

// QueryContext is a SQL text with every referenced table bound.
type QueryContext struct {
	SQL string
	// Tables lists the referenced identifiers in first-appearance order.
	Tables []string
	// Handles maps each identifier to its resolved handle.
	Handles  map[string]catalog.TableHandle
	Bindings query.Bindings
}

// Binder binds SQL texts.
type Binder struct {
	cache       Cache
	open        storage.Opener
	logger      *slog.Logger
	parallelism int
}

// New returns a Binder resolving through cache and reading with open.
func New(cache Cache, open storage.Opener, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		cache:       cache,
		open:        open,
		logger:      logger.With("component", "binder"),
		parallelism: defaultParallelism,
	}
}

// Bind extracts the tables sql references and resolves each for READ.
// A SQL text that does not parse fails with a QueryError; a resolution
// failure is returned as the resolver reported it. A query without tables
// binds to an empty mapping.
func (b *Binder) Bind(ctx context.Context, sql string) (*QueryContext, error) {
	ctx, span := tracer.Start(ctx, "binder.bind")
	defer span.End()

	names, err := query.TableRefs(sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("tables", names))

	start := time.Now()
	handles := make([]catalog.TableHandle, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for i, name := range names {
		g.Go(func() error {
			h, err := b.cache.GetOrResolve(gctx, name, catalog.Read)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.DebugContext(ctx, "bind failed", "tables", names, "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qc := &QueryContext{
		SQL:      sql,
		Tables:   names,
		Handles:  make(map[string]catalog.TableHandle, len(names)),
		Bindings: make(query.Bindings, len(names)),
	}
	for i, name := range names {
		qc.Handles[name] = handles[i]
		qc.Bindings[name] = tableformat.NewScan(handles[i], b.open, b.logger)
	}
	metrics.TablesBound.Observe(float64(len(names)))
	b.logger.DebugContext(ctx, "bound query", "tables", names, "duration", time.Since(start))
	return qc, nil
}
