package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

func newCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	c, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestCreateAndLoad(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := newCatalog(t, WithClock(func() time.Time { return now }), WithCredentialTTL(10*time.Minute))
	ctx := context.Background()

	if err := c.CreateCatalog("main"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateSchema(ctx, catalog.CreateSchemaRequest{Catalog: "main", Name: "sales"}); err != nil {
		t.Fatal(err)
	}
	info, err := c.CreateTable(ctx, catalog.CreateTableRequest{Catalog: "main", Schema: "sales", Name: "orders"})
	if err != nil {
		t.Fatal(err)
	}
	if info.FullName != "main.sales.orders" || info.TableType != catalog.TableTypeExternal {
		t.Errorf("unexpected info %+v", info)
	}
	if _, err := os.Stat(info.StorageLocation); err != nil {
		t.Errorf("table directory not created: %v", err)
	}

	name := catalog.TableName{Catalog: "main", Schema: "sales", Table: "orders"}
	h, err := c.LoadTable(ctx, name, catalog.Read)
	if err != nil {
		t.Fatal(err)
	}
	if h.Location != info.StorageLocation {
		t.Errorf("location = %q, want %q", h.Location, info.StorageLocation)
	}
	if !h.Credential.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("expires_at = %v", h.Credential.ExpiresAt)
	}
	if c.LoadCount(name) != 1 {
		t.Errorf("load count = %d", c.LoadCount(name))
	}
}

func TestLoad_Errors(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	_ = c.CreateCatalog("main")
	_, _ = c.CreateSchema(ctx, catalog.CreateSchemaRequest{Catalog: "main", Name: "s"})
	_, _ = c.CreateTable(ctx, catalog.CreateTableRequest{Catalog: "main", Schema: "s", Name: "t"})

	missing := catalog.TableName{Catalog: "main", Schema: "s", Table: "nope"}
	if _, err := c.LoadTable(ctx, missing, catalog.Read); gatewayerr.KindOf(err) != gatewayerr.KindNotFound {
		t.Errorf("missing table: %v", err)
	}

	name := catalog.TableName{Catalog: "main", Schema: "s", Table: "t"}
	if err := c.DenyWrite(name); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadTable(ctx, name, catalog.ReadWrite); gatewayerr.KindOf(err) != gatewayerr.KindUnauthorized {
		t.Errorf("read-only table loaded for write: %v", err)
	}
	if _, err := c.LoadTable(ctx, name, catalog.Read); err != nil {
		t.Errorf("read-only table should load for READ: %v", err)
	}
}

func TestDiscoverExistingTables(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "main", "sales", "orders", "_delta_log"), 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	tables, err := c.ListTables(context.Background(), "main", "sales")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0].Name != "orders" {
		t.Fatalf("unexpected tables %+v", tables)
	}
	cats, _ := c.ListCatalogs(context.Background())
	if len(cats) != 1 || cats[0].Name != "main" {
		t.Errorf("unexpected catalogs %+v", cats)
	}
}

func TestCreateTable_Duplicate(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	_ = c.CreateCatalog("main")
	_, _ = c.CreateSchema(ctx, catalog.CreateSchemaRequest{Catalog: "main", Name: "s"})
	req := catalog.CreateTableRequest{Catalog: "main", Schema: "s", Name: "t"}
	if _, err := c.CreateTable(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTable(ctx, req); gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
		t.Errorf("duplicate create: %v", err)
	}
}
