package tableformat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/storage"
)

func TestScan(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, New(store), []map[string]interface{}{{"id": 1, "name": "a"}}, WriteOptions{})

	handle := catalog.TableHandle{Name: "main.sales.orders", Location: dir, Mode: catalog.Read}
	scan := NewScan(handle, storage.NewOpener(storage.Options{}), nil)
	if got, want := scan.Describe(), "DeltaScan main.sales.orders location="+dir+" mode=READ"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	res, err := scan.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || len(res.Columns) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestScanExpiredCredential(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	handle := catalog.TableHandle{
		Name:       "main.sales.orders",
		Location:   t.TempDir(),
		Credential: catalog.Credential{ExpiresAt: now.Add(-time.Minute)},
	}
	scan := NewScan(handle, storage.NewOpener(storage.Options{Now: func() time.Time { return now }}), nil)
	if _, err := scan.Read(context.Background()); !errors.Is(err, gatewayerr.ErrCredentialExpired) {
		t.Errorf("expected ErrCredentialExpired, got %v", err)
	}
}
