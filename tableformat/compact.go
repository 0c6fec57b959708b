package tableformat

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
)

// DefaultTargetFileSize is the compaction target when none is given.
const DefaultTargetFileSize int64 = 100 << 20

// Partition filter operators.
const (
	OpEqual    = "="
	OpNotEqual = "!="
	OpIn       = "in"
	OpNotIn    = "not in"
)

// PartitionFilter restricts compaction to partitions whose Column value
// satisfies Op against Values.
type PartitionFilter struct {
	Column string   `json:"column"`
	Op     string   `json:"op"`
	Values []string `json:"values"`
}

// CompactOptions configures Compact.
type CompactOptions struct {
	PartitionFilters []PartitionFilter
	TargetSize       int64
}

// CompactMetrics summarizes a Compact.
type CompactMetrics struct {
	Version              int64 `json:"version"`
	NumFilesAdded        int   `json:"num_files_added"`
	NumFilesRemoved      int   `json:"num_files_removed"`
	BytesAdded           int64 `json:"bytes_added"`
	BytesRemoved         int64 `json:"bytes_removed"`
	PartitionsOptimized  int   `json:"partitions_optimized"`
	NumBatches           int   `json:"num_batches"`
	TotalConsideredFiles int   `json:"total_considered_files"`
	TotalFilesSkipped    int   `json:"total_files_skipped"`
}

func (f PartitionFilter) validate(snap *Snapshot) (PartitionFilter, error) {
	if !snap.isPartitionColumn(f.Column) {
		return f, gatewayerr.Invalid("filter column %s is not a partition column", f.Column)
	}
	op := strings.ToLower(strings.Join(strings.Fields(f.Op), " "))
	switch op {
	case OpEqual, OpNotEqual:
		if len(f.Values) != 1 {
			return f, gatewayerr.Invalid("operator %s takes exactly one value", f.Op)
		}
	case OpIn, OpNotIn:
		if len(f.Values) == 0 {
			return f, gatewayerr.Invalid("operator %s needs at least one value", f.Op)
		}
	default:
		return f, gatewayerr.Invalid("unknown partition filter operator %q", f.Op)
	}
	f.Op = op
	return f, nil
}

func (f PartitionFilter) matches(values map[string]*string) bool {
	v := partitionValue(values, f.Column)
	in := false
	if v != nil {
		for _, want := range f.Values {
			if *v == want {
				in = true
				break
			}
		}
	}
	switch f.Op {
	case OpEqual, OpIn:
		return in
	default:
		return v != nil && !in
	}
}

// Compact rewrites small files into files of roughly TargetSize bytes.
// Files are only combined within one partition, and only bins of two or
// more files are rewritten. The commit carries dataChange=false, so rows
// are unchanged for readers.
func (t *Table) Compact(ctx context.Context, opts CompactOptions) (*CompactMetrics, error) {
	snap, err := t.Snapshot(ctx)
	if errors.Is(err, ErrNotATable) {
		return nil, &gatewayerr.NotFoundError{Table: t.name, Err: err}
	}
	if err != nil {
		return nil, err
	}
	target := opts.TargetSize
	if target <= 0 {
		target = DefaultTargetFileSize
	}
	filters := make([]PartitionFilter, len(opts.PartitionFilters))
	for i, f := range opts.PartitionFilters {
		if filters[i], err = f.validate(snap); err != nil {
			return nil, err
		}
	}

	res := &CompactMetrics{Version: snap.Version}
	var (
		order      []string
		partitions = make(map[string][]*AddFile)
	)
	for _, f := range snap.Files() {
		if !matchesAll(filters, f.PartitionValues) {
			continue
		}
		res.TotalConsideredFiles++
		if f.Size >= target {
			res.TotalFilesSkipped++
			continue
		}
		key := partitionKey(snap.PartitionColumns(), f.PartitionValues)
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], f)
	}

	var actions []Action
	ts := t.now().UnixMilli()
	for _, key := range order {
		bins := binPack(partitions[key], target)
		optimized := false
		for _, bin := range bins {
			if len(bin) < 2 {
				res.TotalFilesSkipped += len(bin)
				continue
			}
			perFile, err := t.readFiles(ctx, snap, bin)
			if err != nil {
				return nil, err
			}
			var rows [][]interface{}
			for _, r := range perFile {
				rows = append(rows, r...)
			}
			adds, err := t.writeFiles(ctx, snap.Schema, snap.PartitionColumns(), rows, false)
			if err != nil {
				return nil, err
			}
			for _, f := range bin {
				actions = append(actions, Action{Remove: f.remove(ts, false)})
				res.NumFilesRemoved++
				res.BytesRemoved += f.Size
			}
			for _, a := range adds {
				actions = append(actions, Action{Add: a})
				res.NumFilesAdded++
				res.BytesAdded += a.Size
			}
			res.NumBatches++
			optimized = true
		}
		if optimized {
			res.PartitionsOptimized++
		}
	}

	if len(actions) == 0 {
		t.logger.InfoContext(ctx, "nothing to compact", "considered", res.TotalConsideredFiles)
		return res, nil
	}
	filterText := make([]string, len(filters))
	for i, f := range filters {
		filterText[i] = f.Column + " " + f.Op + " (" + strings.Join(f.Values, ", ") + ")"
	}
	info := CommitInfo{
		Operation: "OPTIMIZE",
		OperationParameters: map[string]string{
			"targetSize": strconv.FormatInt(target, 10),
			"predicate":  "[" + strings.Join(filterText, ", ") + "]",
		},
		OperationMetrics: map[string]string{
			"numAddedFiles":   strconv.Itoa(res.NumFilesAdded),
			"numRemovedFiles": strconv.Itoa(res.NumFilesRemoved),
		},
	}
	version := snap.Version + 1
	if err := t.commit(ctx, version, info, actions); err != nil {
		return nil, err
	}
	res.Version = version
	return res, nil
}

func matchesAll(filters []PartitionFilter, values map[string]*string) bool {
	for _, f := range filters {
		if !f.matches(values) {
			return false
		}
	}
	return true
}

func partitionKey(cols []string, values map[string]*string) string {
	var b strings.Builder
	for _, c := range cols {
		b.WriteString(c)
		if v := partitionValue(values, c); v != nil {
			b.WriteString("=" + *v)
		}
		b.WriteByte(0)
	}
	return b.String()
}

// binPack groups files, smallest first, into bins whose total size stays
// within target.
func binPack(files []*AddFile, target int64) [][]*AddFile {
	sorted := make([]*AddFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	var (
		bins [][]*AddFile
		cur  []*AddFile
		size int64
	)
	for _, f := range sorted {
		if len(cur) > 0 && size+f.Size > target {
			bins = append(bins, cur)
			cur, size = nil, 0
		}
		cur = append(cur, f)
		size += f.Size
	}
	if len(cur) > 0 {
		bins = append(bins, cur)
	}
	return bins
}
