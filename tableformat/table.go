package tableformat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vegasq/deltagate/query"
	"github.com/vegasq/deltagate/storage"
	"golang.org/x/sync/errgroup"
)

const engineInfo = "deltagate"

// defaultReadParallelism bounds concurrent data file reads.
const defaultReadParallelism = 8

// Table is a transactional table rooted at a storage.Storage.
type Table struct {
	store       storage.Storage
	name        string
	now         func() time.Time
	logger      *slog.Logger
	parallelism int
	retention   time.Duration
}

// Option configures a Table.
type Option func(*Table)

// WithName sets the name used in errors and logs. It defaults to the
// storage URI.
func WithName(name string) Option {
	return func(t *Table) { t.name = name }
}

// WithClock overrides the time source for commit timestamps and vacuum
// cutoffs.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithDefaultRetention sets the vacuum retention for tables that do not
// configure delta.deletedFileRetentionDuration.
func WithDefaultRetention(d time.Duration) Option {
	return func(t *Table) { t.retention = d }
}

// WithReadParallelism bounds how many data files are read at once.
func WithReadParallelism(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.parallelism = n
		}
	}
}

// New returns the table stored in store. The table need not exist yet;
// the first Write creates it.
func New(store storage.Storage, opts ...Option) *Table {
	t := &Table{
		store:       store,
		name:        store.URI(),
		now:         time.Now,
		parallelism: defaultReadParallelism,
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "tableformat", "table", t.name)
	return t
}

// Name returns the table name used in errors.
func (t *Table) Name() string { return t.name }

// Snapshot replays the log to the latest version. A location without a
// log fails with ErrNotATable.
func (t *Table) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := loadSnapshot(ctx, t.store)
	if err != nil {
		if errors.Is(err, ErrNotATable) {
			return nil, err
		}
		return nil, fmt.Errorf("load %s: %w", t.name, err)
	}
	return snap, nil
}

// Exists reports whether the table has a transaction log.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	_, err := listVersions(ctx, t.store)
	if errors.Is(err, ErrNotATable) {
		return false, nil
	}
	return err == nil, err
}

// Rows reads every active file of the latest snapshot. Columns follow the
// schema order; partition values are re-attached from the log. A location
// without a table yields an empty result.
func (t *Table) Rows(ctx context.Context) (*query.Result, error) {
	snap, err := t.Snapshot(ctx)
	if errors.Is(err, ErrNotATable) {
		return &query.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	perFile, err := t.readFiles(ctx, snap, snap.Files())
	if err != nil {
		return nil, err
	}
	result := &query.Result{Columns: snap.Schema.Names()}
	for _, rows := range perFile {
		result.Rows = append(result.Rows, rows...)
	}
	return result, nil
}

// readFiles reads files concurrently, keeping the result order aligned
// with files.
func (t *Table) readFiles(ctx context.Context, snap *Snapshot, files []*AddFile) ([][][]interface{}, error) {
	out := make([][][]interface{}, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)
	for i, f := range files {
		g.Go(func() error {
			rows, err := t.readFile(ctx, snap, f)
			if err != nil {
				return err
			}
			out[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) readFile(ctx context.Context, snap *Snapshot, f *AddFile) ([][]interface{}, error) {
	data, err := t.store.Read(ctx, storagePath(f.Path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	fields := snap.Schema.Fields
	rows, err := decodeParquet(ctx, data, fields)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	for i, field := range fields {
		if !snap.isPartitionColumn(field.Name) {
			continue
		}
		v, err := parsePartitionValue(partitionValue(f.PartitionValues, field.Name), field.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: partition %s: %w", f.Path, field.Name, err)
		}
		for _, row := range rows {
			row[i] = v
		}
	}
	return rows, nil
}

func partitionValue(values map[string]*string, col string) *string {
	if v, ok := values[col]; ok {
		return v
	}
	for k, v := range values {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	return nil
}
