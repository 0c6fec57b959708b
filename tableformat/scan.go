package tableformat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/query"
	"github.com/vegasq/deltagate/storage"
)

// Scan is a lazy read of a resolved table. Nothing is opened until Read.
type Scan struct {
	handle catalog.TableHandle
	open   storage.Opener
	logger *slog.Logger
}

// NewScan returns a Scan over handle that opens storage with open.
func NewScan(handle catalog.TableHandle, open storage.Opener, logger *slog.Logger) *Scan {
	return &Scan{handle: handle, open: open, logger: logger}
}

// Handle returns the resolved handle the scan reads through.
func (s *Scan) Handle() catalog.TableHandle { return s.handle }

// Read opens the table storage and materializes the latest snapshot.
func (s *Scan) Read(ctx context.Context) (*query.Result, error) {
	store, err := s.open(ctx, s.handle)
	if err != nil {
		return nil, err
	}
	return New(store, WithName(s.handle.Name), WithLogger(s.logger)).Rows(ctx)
}

// Describe renders the scan for plan output.
func (s *Scan) Describe() string {
	return fmt.Sprintf("DeltaScan %s location=%s mode=%s", s.handle.Name, s.handle.Location, s.handle.Mode)
}
