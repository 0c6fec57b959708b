// Package mutation applies row-level and maintenance operations to a single
// catalog table.
//
// Every request runs the same state machine:
//
//	RESOLVE -> VALIDATE -> APPLY -> DONE
//	              |
//	              +-> REJECTED
//
// RESOLVE obtains a READ_WRITE handle through the credential cache,
// VALIDATE checks the payload (an empty row set is rejected), and APPLY
// runs one table-format transaction. A concurrent writer surfaces as a
// ConflictError; nothing is retried here.
package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
	"github.com/vegasq/deltagate/storage"
	"github.com/vegasq/deltagate/tableformat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/vegasq/deltagate/mutation")

// MaxRetentionHours is the largest vacuum retention a time.Duration holds.
const MaxRetentionHours = float64(math.MaxInt64 / int64(time.Hour))

// Kind names a mutation operation.
type Kind string

const (
	Append      Kind = "append"
	MergeUpdate Kind = "merge_update"
	MergeDelete Kind = "merge_delete"
	Compact     Kind = "compact"
	Vacuum      Kind = "vacuum"
)

// ParseKind accepts the kind names case-insensitively, with - or _.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch k {
	case Append, MergeUpdate, MergeDelete, Compact, Vacuum:
		return k, nil
	}
	return "", gatewayerr.Invalid("unknown mutation kind %q", s)
}

// State is a step of the request state machine.
type State int

const (
	StateResolve State = iota
	StateValidate
	StateApply
	StateDone
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateResolve:
		return "RESOLVE"
	case StateValidate:
		return "VALIDATE"
	case StateApply:
		return "APPLY"
	case StateDone:
		return "DONE"
	case StateRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Request is one mutation against Table. Which fields apply depends on
// Kind.
type Request struct {
	Kind  Kind   `json:"kind"`
	Table string `json:"table"`

	// Append, MergeUpdate and MergeDelete.
	Rows []map[string]interface{} `json:"rows,omitempty"`

	// Append.
	PartitionBy []string             `json:"partition_by,omitempty"`
	Mode        tableformat.SaveMode `json:"mode,omitempty"`

	// MergeUpdate and MergeDelete.
	Predicate        string            `json:"predicate,omitempty"`
	Updates          map[string]string `json:"updates,omitempty"`
	MatchedPredicate string            `json:"matched_predicate,omitempty"`
	SourceAlias      string            `json:"source_alias,omitempty"`
	TargetAlias      string            `json:"target_alias,omitempty"`

	// Compact.
	PartitionFilters []tableformat.PartitionFilter `json:"partition_filters,omitempty"`
	TargetSize       int64                         `json:"target_size,omitempty"`

	// Vacuum.
	RetentionHours   *float64 `json:"retention_hours,omitempty"`
	DryRun           bool     `json:"dry_run,omitempty"`
	EnforceRetention bool     `json:"enforce_retention,omitempty"`
}

// Result reports the state a request reached and the operation summary.
type Result struct {
	Kind     Kind          `json:"kind"`
	Table    string        `json:"table"`
	State    State         `json:"state"`
	Version  int64         `json:"version"`
	Duration time.Duration `json:"duration_ns"`

	Write   *tableformat.WriteResult    `json:"write,omitempty"`
	Merge   *tableformat.MergeMetrics   `json:"merge,omitempty"`
	Compact *tableformat.CompactMetrics `json:"compact,omitempty"`
	Vacuum  *tableformat.VacuumResult   `json:"vacuum,omitempty"`
}

// Cache is the handle lookup mutations resolve through.
type Cache interface {
	GetOrResolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error)
}

// Executor applies mutation requests.
type Executor struct {
	cache          Cache
	open           storage.Opener
	logger         *slog.Logger
	now            func() time.Time
	targetFileSize int64
	minRetention   time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source passed to tables.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithTargetFileSize sets the compaction target used when a request does
// not carry one.
func WithTargetFileSize(n int64) Option {
	return func(e *Executor) { e.targetFileSize = n }
}

// WithMinRetention sets the vacuum retention for tables that do not
// configure their own.
func WithMinRetention(d time.Duration) Option {
	return func(e *Executor) { e.minRetention = d }
}

// NewExecutor returns an Executor resolving through cache and opening
// storage with open.
func NewExecutor(cache Cache, open storage.Opener, opts ...Option) *Executor {
	e := &Executor{
		cache:          cache,
		open:           open,
		now:            time.Now,
		targetFileSize: tableformat.DefaultTargetFileSize,
		minRetention:   tableformat.DefaultDeletedFileRetention,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "mutation")
	return e
}

// Apply runs req through the state machine. The returned Result is never
// nil; on failure it records the state the request stopped in.
func (e *Executor) Apply(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Kind: req.Kind, Table: req.Table, State: StateResolve}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "mutation."+string(req.Kind))
	defer span.End()
	span.SetAttributes(attribute.String("table", req.Table), attribute.String("kind", string(req.Kind)))

	err := e.run(ctx, req, res)
	res.Duration = time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = string(gatewayerr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WarnContext(ctx, "mutation failed",
			"kind", req.Kind, "table", req.Table, "state", res.State.String(), "error", err)
	} else {
		e.logger.InfoContext(ctx, "mutation applied",
			"kind", req.Kind, "table", req.Table, "version", res.Version, "duration", res.Duration)
	}
	metrics.Mutations.WithLabelValues(string(req.Kind), outcome).Inc()
	metrics.MutationDuration.WithLabelValues(string(req.Kind)).Observe(res.Duration.Seconds())
	return res, err
}

func (e *Executor) run(ctx context.Context, req Request, res *Result) error {
	if _, err := ParseKind(string(req.Kind)); err != nil {
		res.State = StateRejected
		return err
	}

	handle, err := e.cache.GetOrResolve(ctx, req.Table, catalog.ReadWrite)
	if err != nil {
		return err
	}

	res.State = StateValidate
	if err := validate(req); err != nil {
		res.State = StateRejected
		return err
	}

	res.State = StateApply
	store, err := e.open(ctx, handle)
	if err != nil {
		return err
	}
	tbl := tableformat.New(store,
		tableformat.WithName(handle.Name),
		tableformat.WithClock(e.now),
		tableformat.WithLogger(e.logger),
		tableformat.WithDefaultRetention(e.minRetention),
	)
	if err := e.apply(ctx, tbl, req, res); err != nil {
		return err
	}
	res.State = StateDone
	return nil
}

func validate(req Request) error {
	switch req.Kind {
	case Append, MergeUpdate, MergeDelete:
		if len(req.Rows) == 0 {
			return gatewayerr.Invalid("%s of %s has no rows", req.Kind, req.Table)
		}
	}
	switch req.Kind {
	case Append:
		if req.Mode != "" && req.Mode != tableformat.ModeAppend && req.Mode != tableformat.ModeOverwrite {
			return gatewayerr.Invalid("unknown write mode %q", req.Mode)
		}
	case MergeUpdate:
		if strings.TrimSpace(req.Predicate) == "" {
			return gatewayerr.Invalid("merge of %s needs a predicate", req.Table)
		}
		if len(req.Updates) == 0 {
			return gatewayerr.Invalid("merge of %s has no column updates", req.Table)
		}
	case MergeDelete:
		if strings.TrimSpace(req.Predicate) == "" {
			return gatewayerr.Invalid("delete from %s needs a predicate", req.Table)
		}
	case Compact:
		if req.TargetSize < 0 {
			return gatewayerr.Invalid("target size must not be negative")
		}
	case Vacuum:
		if h := req.RetentionHours; h != nil {
			if *h < 0 || math.IsNaN(*h) || math.IsInf(*h, 0) {
				return gatewayerr.Invalid("retention hours must be a non-negative number")
			}
			if *h > MaxRetentionHours {
				return gatewayerr.Invalid("retention hours must not exceed %.0f", MaxRetentionHours)
			}
		}
	}
	return nil
}

func (e *Executor) apply(ctx context.Context, tbl *tableformat.Table, req Request, res *Result) error {
	switch req.Kind {
	case Append:
		w, err := tbl.Write(ctx, req.Rows, tableformat.WriteOptions{Mode: req.Mode, PartitionBy: req.PartitionBy})
		if err != nil {
			return err
		}
		res.Write, res.Version = w, w.Version
	case MergeUpdate, MergeDelete:
		opts := tableformat.MergeOptions{
			Source:           req.Rows,
			Predicate:        req.Predicate,
			SourceAlias:      req.SourceAlias,
			TargetAlias:      req.TargetAlias,
			MatchedPredicate: req.MatchedPredicate,
		}
		if req.Kind == MergeDelete {
			opts.Delete = true
		} else {
			opts.Updates = req.Updates
		}
		m, err := tbl.Merge(ctx, opts)
		if err != nil {
			return err
		}
		res.Merge, res.Version = m, m.Version
	case Compact:
		target := req.TargetSize
		if target == 0 {
			target = e.targetFileSize
		}
		c, err := tbl.Compact(ctx, tableformat.CompactOptions{PartitionFilters: req.PartitionFilters, TargetSize: target})
		if err != nil {
			return err
		}
		res.Compact, res.Version = c, c.Version
	case Vacuum:
		opts := tableformat.VacuumOptions{DryRun: req.DryRun, EnforceRetention: req.EnforceRetention}
		if req.RetentionHours != nil {
			d := time.Duration(*req.RetentionHours * float64(time.Hour))
			opts.Retention = &d
		}
		v, err := tbl.Vacuum(ctx, opts)
		if err != nil {
			return err
		}
		res.Vacuum, res.Version = v, v.Version
	}
	return nil
}
