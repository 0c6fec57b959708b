package tableformat

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
)

// VacuumOptions configures Vacuum.
type VacuumOptions struct {
	// Retention overrides the table's deleted file retention.
	Retention *time.Duration
	DryRun    bool
	// EnforceRetention rejects a Retention shorter than the table's.
	EnforceRetention bool
}

// VacuumResult lists the files deleted, or that would be with DryRun.
type VacuumResult struct {
	Version int64    `json:"version"`
	DryRun  bool     `json:"dry_run"`
	Files   []string `json:"files"`
}

// Vacuum deletes data files that no active file references and that are
// older than the retention: tombstones by deletion time, and orphans left by
// failed commits by modification time. The log and hidden paths (any
// segment starting with _ or .) are never touched.
func (t *Table) Vacuum(ctx context.Context, opts VacuumOptions) (*VacuumResult, error) {
	snap, err := t.Snapshot(ctx)
	if errors.Is(err, ErrNotATable) {
		return nil, &gatewayerr.NotFoundError{Table: t.name, Err: err}
	}
	if err != nil {
		return nil, err
	}
	minRetention, err := snap.DeletedFileRetention(t.retention)
	if err != nil {
		return nil, err
	}
	retention := minRetention
	if opts.Retention != nil {
		retention = *opts.Retention
	}
	if retention < 0 {
		return nil, gatewayerr.Invalid("retention must not be negative")
	}
	if opts.EnforceRetention && retention < minRetention {
		return nil, gatewayerr.Invalid("retention %s is shorter than the table minimum %s", retention, minRetention)
	}

	now := t.now()
	cutoff := now.Add(-retention)
	active := make(map[string]bool)
	for _, f := range snap.Files() {
		active[storagePath(f.Path)] = true
	}
	tombstones := make(map[string]time.Time)
	for _, r := range snap.Tombstones() {
		tombstones[storagePath(r.Path)] = time.UnixMilli(r.DeletionTimestamp)
	}

	objects, err := t.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var candidates []string
	for _, obj := range objects {
		if active[obj.Path] || hiddenPath(obj.Path, snap.PartitionColumns()) {
			continue
		}
		age := obj.ModTime
		if deleted, ok := tombstones[obj.Path]; ok {
			age = deleted
		}
		if age.Before(cutoff) {
			candidates = append(candidates, obj.Path)
		}
	}
	sort.Strings(candidates)

	res := &VacuumResult{Version: snap.Version, DryRun: opts.DryRun, Files: candidates}
	if res.Files == nil {
		res.Files = []string{}
	}
	if opts.DryRun || len(candidates) == 0 {
		return res, nil
	}
	for _, p := range candidates {
		if err := t.store.Delete(ctx, p); err != nil {
			return nil, err
		}
		metrics.FilesRemoved.Inc()
	}
	t.logger.InfoContext(ctx, "vacuumed files", "count", len(candidates), "retention", retention)

	info := CommitInfo{
		Operation: "VACUUM END",
		OperationParameters: map[string]string{
			"status":           "COMPLETED",
			"retentionHours":   strconv.FormatFloat(retention.Hours(), 'f', -1, 64),
			"enforceRetention": strconv.FormatBool(opts.EnforceRetention),
		},
		OperationMetrics: map[string]string{
			"numDeletedFiles": strconv.Itoa(len(candidates)),
		},
	}
	version := snap.Version + 1
	if err := t.commit(ctx, version, info, nil); err != nil {
		return nil, err
	}
	res.Version = version
	return res, nil
}

// hiddenPath reports whether p lives under the log or a hidden directory.
// Partition directories are never hidden even when the column name starts
// with an underscore.
func hiddenPath(p string, partCols []string) bool {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		if s == logDir {
			return true
		}
		if !strings.HasPrefix(s, "_") && !strings.HasPrefix(s, ".") {
			continue
		}
		if i < len(segments)-1 && isPartitionDir(s, partCols) {
			continue
		}
		return true
	}
	return false
}

func isPartitionDir(segment string, partCols []string) bool {
	col, _, ok := strings.Cut(segment, "=")
	if !ok {
		return false
	}
	for _, c := range partCols {
		if strings.EqualFold(c, col) {
			return true
		}
	}
	return false
}
