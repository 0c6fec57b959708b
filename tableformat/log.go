package tableformat

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
	"github.com/vegasq/deltagate/storage"
)

const logDir = "_delta_log"

// ErrNotATable is returned when a location has no transaction log.
var ErrNotATable = errors.New("no transaction log")

func commitPath(version int64) string {
	return path.Join(logDir, fmt.Sprintf("%020d.json", version))
}

// parseCommitPath returns the version of a commit file path.
func parseCommitPath(p string) (int64, bool) {
	dir, name := path.Split(p)
	if strings.TrimSuffix(dir, "/") != logDir || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	digits := strings.TrimSuffix(name, ".json")
	if len(digits) != 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// listVersions returns the committed versions in ascending order.
func listVersions(ctx context.Context, store storage.Storage) ([]int64, error) {
	objects, err := store.List(ctx, logDir+"/")
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	var versions []int64
	for _, obj := range objects {
		if v, ok := parseCommitPath(obj.Path); ok {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, ErrNotATable
	}
	for i, v := range versions {
		if v != int64(i) {
			return nil, fmt.Errorf("transaction log is missing version %d", i)
		}
	}
	return versions, nil
}

func readCommit(ctx context.Context, store storage.Storage, version int64) ([]Action, error) {
	data, err := store.Read(ctx, commitPath(version))
	if err != nil {
		return nil, fmt.Errorf("read version %d: %w", version, err)
	}
	actions, err := decodeActions(data)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", version, err)
	}
	return actions, nil
}

// commit writes actions as the given version. It fails with a
// ConflictError if that version already exists.
func (t *Table) commit(ctx context.Context, version int64, info CommitInfo, actions []Action) error {
	info.Version = version
	info.Timestamp = t.now().UnixMilli()
	info.EngineInfo = engineInfo
	if version > 0 {
		read := version - 1
		info.ReadVersion = &read
	}
	actions = append([]Action{{CommitInfo: &info}}, actions...)

	data, err := encodeActions(actions)
	if err != nil {
		return err
	}
	err = t.store.PutIfAbsent(ctx, commitPath(version), data)
	switch {
	case errors.Is(err, storage.ErrExists):
		metrics.Commits.WithLabelValues(info.Operation, "conflict").Inc()
		t.logger.WarnContext(ctx, "concurrent commit detected", "version", version, "operation", info.Operation)
		return &gatewayerr.ConflictError{Table: t.name, Version: version, Err: err}
	case err != nil:
		metrics.Commits.WithLabelValues(info.Operation, "error").Inc()
		return fmt.Errorf("commit version %d: %w", version, err)
	}
	metrics.Commits.WithLabelValues(info.Operation, "ok").Inc()
	t.logger.InfoContext(ctx, "committed", "version", version, "operation", info.Operation, "actions", len(actions))
	return nil
}
