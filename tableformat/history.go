package tableformat

import (
	"context"
	"errors"

	"github.com/vegasq/deltagate/gatewayerr"
)

// History returns commit infos newest first. A limit of zero returns every
// version.
func (t *Table) History(ctx context.Context, limit int) ([]CommitInfo, error) {
	versions, err := listVersions(ctx, t.store)
	if errors.Is(err, ErrNotATable) {
		return nil, &gatewayerr.NotFoundError{Table: t.name, Err: err}
	}
	if err != nil {
		return nil, err
	}
	var out []CommitInfo
	for i := len(versions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		actions, err := readCommit(ctx, t.store, versions[i])
		if err != nil {
			return nil, err
		}
		info := CommitInfo{Version: versions[i]}
		for _, a := range actions {
			if a.CommitInfo != nil {
				info = *a.CommitInfo
				info.Version = versions[i]
				break
			}
		}
		out = append(out, info)
	}
	return out, nil
}
