package tableformat

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vegasq/deltagate/storage"
)

// DefaultDeletedFileRetention is the vacuum retention used when the table
// does not configure delta.deletedFileRetentionDuration.
const DefaultDeletedFileRetention = 7 * 24 * time.Hour

// Snapshot is the table state at one version.
type Snapshot struct {
	Version  int64
	Protocol Protocol
	Metadata Metadata
	Schema   Schema

	files      map[string]*AddFile
	order      []string
	tombstones map[string]*RemoveFile
}

// loadSnapshot replays the log up to the latest version.
func loadSnapshot(ctx context.Context, store storage.Storage) (*Snapshot, error) {
	versions, err := listVersions(ctx, store)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		files:      make(map[string]*AddFile),
		tombstones: make(map[string]*RemoveFile),
	}
	for _, v := range versions {
		actions, err := readCommit(ctx, store, v)
		if err != nil {
			return nil, err
		}
		if err := snap.apply(actions); err != nil {
			return nil, fmt.Errorf("version %d: %w", v, err)
		}
		snap.Version = v
	}
	if snap.Metadata.SchemaString == "" {
		return nil, fmt.Errorf("transaction log has no metadata")
	}
	return snap, nil
}

func (s *Snapshot) apply(actions []Action) error {
	for _, a := range actions {
		switch {
		case a.Protocol != nil:
			s.Protocol = *a.Protocol
		case a.MetaData != nil:
			schema, err := ParseSchema(a.MetaData.SchemaString)
			if err != nil {
				return err
			}
			s.Metadata = *a.MetaData
			s.Schema = schema
		case a.Add != nil:
			if _, ok := s.files[a.Add.Path]; !ok {
				s.order = append(s.order, a.Add.Path)
			}
			s.files[a.Add.Path] = a.Add
			delete(s.tombstones, a.Add.Path)
		case a.Remove != nil:
			delete(s.files, a.Remove.Path)
			s.tombstones[a.Remove.Path] = a.Remove
		}
	}
	// drop removed paths from the ordering
	kept := s.order[:0]
	for _, p := range s.order {
		if _, ok := s.files[p]; ok {
			kept = append(kept, p)
		}
	}
	s.order = kept
	return nil
}

// Files returns the active data files in the order they were added.
func (s *Snapshot) Files() []*AddFile {
	out := make([]*AddFile, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.files[p])
	}
	return out
}

// Tombstones returns removed files sorted by path.
func (s *Snapshot) Tombstones() []*RemoveFile {
	out := make([]*RemoveFile, 0, len(s.tombstones))
	for _, r := range s.tombstones {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// IsActive reports whether path is referenced by the snapshot.
func (s *Snapshot) IsActive(path string) bool {
	_, ok := s.files[path]
	return ok
}

// PartitionColumns returns the table's partition columns.
func (s *Snapshot) PartitionColumns() []string {
	return s.Metadata.PartitionColumns
}

func (s *Snapshot) isPartitionColumn(name string) bool {
	for _, c := range s.Metadata.PartitionColumns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// DeletedFileRetention returns the configured tombstone retention, or
// fallback when the table does not set one. A non-positive fallback means
// DefaultDeletedFileRetention.
func (s *Snapshot) DeletedFileRetention(fallback time.Duration) (time.Duration, error) {
	raw, ok := s.Metadata.Configuration["delta.deletedFileRetentionDuration"]
	if !ok || raw == "" {
		if fallback <= 0 {
			fallback = DefaultDeletedFileRetention
		}
		return fallback, nil
	}
	return parseInterval(raw)
}

// parseInterval parses "interval <n> <unit>" as used in table properties.
// Plain Go durations are accepted too.
func parseInterval(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 3 && fields[0] == "interval" {
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		unit := strings.TrimSuffix(fields[2], "s")
		var d time.Duration
		switch unit {
		case "week":
			d = 7 * 24 * time.Hour
		case "day":
			d = 24 * time.Hour
		case "hour":
			d = time.Hour
		case "minute":
			d = time.Minute
		case "second":
			d = time.Second
		default:
			return 0, fmt.Errorf("invalid interval unit in %q", s)
		}
		return time.Duration(n) * d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}
