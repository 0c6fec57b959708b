package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vegasq/deltagate/gatewayerr"
)

func TestParseTableName(t *testing.T) {
	tests := []struct {
		in      string
		want    TableName
		wantErr bool
	}{
		{in: "main.sales.orders", want: TableName{"main", "sales", "orders"}},
		{in: " main.sales.orders ", want: TableName{"main", "sales", "orders"}},
		{in: "`main`.`sales`.`my.table`", want: TableName{"main", "sales", "my.table"}},
		{in: "sales.orders", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "", wantErr: true},
		{in: "a.b.c.d", wantErr: true},
		{in: "`a.b.c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTableName(tt.in)
			if tt.wantErr {
				if gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
					t.Fatalf("expected invalid request, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("Main.`Sales`.Orders"); got != "main.sales.orders" {
		t.Errorf("got %q", got)
	}
}

func TestParseAccessMode(t *testing.T) {
	for in, want := range map[string]AccessMode{"read": Read, "READ_WRITE": ReadWrite} {
		got, err := ParseAccessMode(in)
		if err != nil || got != want {
			t.Errorf("ParseAccessMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAccessMode("ADMIN"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if (Credential{}).Expired(now) {
		t.Error("zero expiry should never expire")
	}
	if !(Credential{ExpiresAt: now}).Expired(now) {
		t.Error("credential expiring now should be expired")
	}
	if (Credential{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Error("future expiry should be valid")
	}
}

func TestTableInfoLoadable(t *testing.T) {
	tests := []struct {
		info TableInfo
		want bool
	}{
		{TableInfo{TableType: "EXTERNAL", DataSourceFormat: "DELTA", StorageLocation: "s3://b/t"}, true},
		{TableInfo{TableType: "MANAGED", DataSourceFormat: "delta", StorageLocation: "/tmp/t"}, true},
		{TableInfo{TableType: "VIEW", DataSourceFormat: "DELTA", StorageLocation: "s3://b/t"}, false},
		{TableInfo{TableType: "EXTERNAL", DataSourceFormat: "PARQUET", StorageLocation: "s3://b/t"}, false},
		{TableInfo{TableType: "EXTERNAL", DataSourceFormat: "DELTA"}, false},
	}
	for _, tt := range tests {
		if got := tt.info.Loadable(); got != tt.want {
			t.Errorf("%+v: Loadable = %v, want %v", tt.info, got, tt.want)
		}
	}
}

type stubCatalog struct {
	Catalog
	handle TableHandle
	err    error
	calls  int
}

func (s *stubCatalog) LoadTable(ctx context.Context, name TableName, mode AccessMode) (TableHandle, error) {
	s.calls++
	if s.err != nil {
		return TableHandle{}, s.err
	}
	return s.handle, nil
}

func TestResolver_PropagatesErrors(t *testing.T) {
	notFound := &gatewayerr.NotFoundError{Table: "a.b.c"}
	r := NewResolver(&stubCatalog{err: notFound}, nil)

	_, err := r.Resolve(context.Background(), "a.b.c", Read)
	if !errors.Is(err, notFound) {
		t.Fatalf("expected the catalog error unchanged, got %v", err)
	}
}

func TestResolver_SetsModeAndName(t *testing.T) {
	stub := &stubCatalog{handle: TableHandle{Location: "/tmp/t", Credential: Credential{ExpiresAt: time.Now().Add(time.Hour)}}}
	r := NewResolver(stub, nil)

	h, err := r.Resolve(context.Background(), "a.b.c", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if h.Name != "a.b.c" || h.Mode != ReadWrite {
		t.Errorf("unexpected handle %+v", h)
	}
}

func TestResolver_CancelledBeforeCall(t *testing.T) {
	stub := &stubCatalog{}
	r := NewResolver(stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx, "a.b.c", Read); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("catalog called %d times after cancellation", stub.calls)
	}
}

func TestResolver_InvalidName(t *testing.T) {
	stub := &stubCatalog{}
	r := NewResolver(stub, nil)
	if _, err := r.Resolve(context.Background(), "orders", Read); gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestIdentity(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}
	ctx := WithIdentity(context.Background(), Identity{Subject: "alice"})
	id, ok := IdentityFrom(ctx)
	if !ok || id.Subject != "alice" {
		t.Errorf("got %+v, %v", id, ok)
	}
}
