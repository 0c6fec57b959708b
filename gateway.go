// Package deltagate is a SQL federation gateway over catalog-governed Delta
// tables.
//
// A Gateway resolves table names through a governance catalog, caches the
// short-lived storage credentials it is handed, binds the tables a query
// references to lazy scans and runs the query in process. Mutations
// (append, merge, compaction, vacuum) resolve their single target table for
// read-write access and commit directly to the table log.
package deltagate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vegasq/deltagate/binder"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/credcache"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
	"github.com/vegasq/deltagate/mutation"
	"github.com/vegasq/deltagate/query"
	"github.com/vegasq/deltagate/storage"
	"github.com/vegasq/deltagate/tableformat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/vegasq/deltagate")

// QueryResult is a materialized query answer.
type QueryResult struct {
	Columns  []string
	Rows     [][]interface{}
	Tables   []string
	Plan     string
	Duration time.Duration
}

// Result returns the rows as a query.Result for formatting.
func (r *QueryResult) Result() *query.Result {
	return &query.Result{Columns: r.Columns, Rows: r.Rows}
}

// Gateway wires the catalog resolver, the credential cache, the binder and
// the mutation executor together. It is safe for concurrent use.
type Gateway struct {
	catalog         catalog.Catalog
	cache           *credcache.Cache
	binder          *binder.Binder
	mutations       *mutation.Executor
	open            storage.Opener
	logger          *slog.Logger
	storageLocation string
}

type options struct {
	logger          *slog.Logger
	cacheOpts       []credcache.Option
	mutationOpts    []mutation.Option
	storage         storage.Options
	storageLocation string
}

// Option configures a Gateway.
type Option func(*options)

// WithLogger sets the logger every component derives from.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheOptions configures the credential cache.
func WithCacheOptions(opts ...credcache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// WithMutationOptions configures the mutation executor.
func WithMutationOptions(opts ...mutation.Option) Option {
	return func(o *options) { o.mutationOpts = append(o.mutationOpts, opts...) }
}

// WithStorageOptions configures how table storage is opened.
func WithStorageOptions(so storage.Options) Option {
	return func(o *options) { o.storage = so }
}

// WithStorageLocation sets the root new tables are placed under when
// CreateTable is given no location.
func WithStorageLocation(root string) Option {
	return func(o *options) { o.storageLocation = root }
}

// New returns a Gateway over cat.
func New(cat catalog.Catalog, opts ...Option) *Gateway {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	resolver := catalog.NewResolver(cat, o.logger)
	cache := credcache.New(resolver, append([]credcache.Option{credcache.WithLogger(o.logger)}, o.cacheOpts...)...)
	open := storage.NewOpener(o.storage)

	return &Gateway{
		catalog:         cat,
		cache:           cache,
		binder:          binder.New(cache, open, o.logger),
		mutations:       mutation.NewExecutor(cache, open, append([]mutation.Option{mutation.WithLogger(o.logger)}, o.mutationOpts...)...),
		open:            open,
		logger:          o.logger.With("component", "gateway"),
		storageLocation: o.storageLocation,
	}
}

// ResolveTable returns the handle for name through the credential cache.
func (g *Gateway) ResolveTable(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error) {
	return g.cache.GetOrResolve(ctx, name, mode)
}

// BindQuery resolves every table sql references for READ.
func (g *Gateway) BindQuery(ctx context.Context, sql string) (*binder.QueryContext, error) {
	return g.binder.Bind(ctx, sql)
}

// RunQuery binds, compiles and executes sql. The plan is rendered before
// any table is read. Duration covers compile and execute only.
func (g *Gateway) RunQuery(ctx context.Context, sql string) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.query")
	defer span.End()

	res, err := g.runQuery(ctx, sql)
	outcome := "ok"
	if err != nil {
		outcome = string(gatewayerr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.DebugContext(ctx, "query failed", "error", err)
	}
	metrics.Queries.WithLabelValues(outcome).Inc()
	return res, err
}

func (g *Gateway) runQuery(ctx context.Context, sql string) (*QueryResult, error) {
	qc, err := g.binder.Bind(ctx, sql)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.StringSlice("tables", qc.Tables))

	start := time.Now()
	st, err := query.Compile(sql, qc.Bindings)
	if err != nil {
		return nil, err
	}
	plan := st.Plan()
	rows, err := st.Run(ctx)
	elapsed := time.Since(start)
	metrics.QueryDuration.Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "query executed",
		"tables", len(qc.Tables),
		"rows", len(rows.Rows),
		"duration", elapsed,
	)
	return &QueryResult{
		Columns:  rows.Columns,
		Rows:     rows.Rows,
		Tables:   qc.Tables,
		Plan:     plan,
		Duration: elapsed,
	}, nil
}

// ApplyMutation runs req. The result is returned even on failure and
// records the state the request stopped in.
func (g *Gateway) ApplyMutation(ctx context.Context, req mutation.Request) (*mutation.Result, error) {
	return g.mutations.Apply(ctx, req)
}

// ListCatalogs lists the catalogs visible to the caller.
func (g *Gateway) ListCatalogs(ctx context.Context) ([]catalog.CatalogInfo, error) {
	return g.catalog.ListCatalogs(ctx)
}

// ListSchemas lists the schemas of cat.
func (g *Gateway) ListSchemas(ctx context.Context, cat string) ([]catalog.SchemaInfo, error) {
	if cat == "" {
		return nil, gatewayerr.Invalid("catalog name is required")
	}
	return g.catalog.ListSchemas(ctx, cat)
}

// ListTables lists the tables of cat.schema.
func (g *Gateway) ListTables(ctx context.Context, cat, schema string) ([]catalog.TableInfo, error) {
	if cat == "" || schema == "" {
		return nil, gatewayerr.Invalid("catalog and schema name are required")
	}
	return g.catalog.ListTables(ctx, cat, schema)
}

// GetTable describes name. When the catalog reports no columns, they are
// read from the table's own schema; failing to do so is not an error.
func (g *Gateway) GetTable(ctx context.Context, name string) (catalog.TableInfo, error) {
	tn, err := catalog.ParseTableName(name)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	info, err := g.catalog.GetTable(ctx, tn)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	if len(info.Columns) > 0 || !info.Loadable() {
		return info, nil
	}
	cols, err := g.tableColumns(ctx, tn.String())
	if err != nil {
		g.logger.DebugContext(ctx, "table columns unavailable", "table", tn.String(), "error", err)
		return info, nil
	}
	info.Columns = cols
	return info, nil
}

func (g *Gateway) tableColumns(ctx context.Context, name string) ([]catalog.ColumnInfo, error) {
	tbl, err := g.openTable(ctx, name)
	if err != nil {
		return nil, err
	}
	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cols := make([]catalog.ColumnInfo, len(snap.Schema.Fields))
	for i, f := range snap.Schema.Fields {
		cols[i] = catalog.ColumnInfo{
			Name:     f.Name,
			TypeName: strings.ToUpper(f.Type),
			TypeText: f.Type,
			Position: i,
			Nullable: f.Nullable,
		}
	}
	return cols, nil
}

// CreateSchema registers a schema.
func (g *Gateway) CreateSchema(ctx context.Context, req catalog.CreateSchemaRequest) (catalog.SchemaInfo, error) {
	return g.catalog.CreateSchema(ctx, req)
}

// CreateTable registers an external Delta table. Without an explicit
// location it is placed at <storage location>/<catalog>/<schema>/<table>/.
func (g *Gateway) CreateTable(ctx context.Context, req catalog.CreateTableRequest) (catalog.TableInfo, error) {
	if req.StorageLocation == "" && g.storageLocation != "" {
		req.StorageLocation = TableLocation(g.storageLocation, req.Catalog, req.Schema, req.Name)
	}
	info, err := g.catalog.CreateTable(ctx, req)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	g.logger.InfoContext(ctx, "table created", "table", info.FullName, "location", info.StorageLocation)
	return info, nil
}

// TableLocation places a table under root.
func TableLocation(root, cat, schema, table string) string {
	return strings.TrimRight(root, "/") + "/" + cat + "/" + schema + "/" + table + "/"
}

// TableHistory returns up to limit commits of name, newest first.
func (g *Gateway) TableHistory(ctx context.Context, name string, limit int) ([]tableformat.CommitInfo, error) {
	tbl, err := g.openTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return tbl.History(ctx, limit)
}

func (g *Gateway) openTable(ctx context.Context, name string) (*tableformat.Table, error) {
	handle, err := g.cache.GetOrResolve(ctx, name, catalog.Read)
	if err != nil {
		return nil, err
	}
	store, err := g.open(ctx, handle)
	if err != nil {
		return nil, err
	}
	return tableformat.New(store, tableformat.WithName(handle.Name), tableformat.WithLogger(g.logger)), nil
}

// CacheLen reports how many handles the credential cache holds.
func (g *Gateway) CacheLen() int {
	return g.cache.Len()
}
