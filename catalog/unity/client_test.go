package unity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL, Token: "service-token"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tableHandler(t *testing.T, credCalls *int32, gotOp *string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.1/unity-catalog/tables/main.sales.orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":               "orders",
			"catalog_name":       "main",
			"schema_name":        "sales",
			"full_name":          "main.sales.orders",
			"table_type":         "EXTERNAL",
			"data_source_format": "DELTA",
			"storage_location":   "s3://bucket/main/sales/orders/",
			"table_id":           "tid-1",
		})
	})
	mux.HandleFunc("/api/2.1/unity-catalog/tables/main.sales.view", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":               "view",
			"table_type":         "VIEW",
			"data_source_format": "",
		})
	})
	mux.HandleFunc("/api/2.1/unity-catalog/temporary-table-credentials", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(credCalls, 1)
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode credentials request: %v", err)
		}
		*gotOp = req.Operation
		if req.TableID != "tid-1" {
			t.Errorf("table_id = %q, want tid-1", req.TableID)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"aws_temp_credentials": map[string]string{
				"access_key_id":     "AKIA",
				"secret_access_key": "secret",
				"session_token":     "session",
			},
			"expiration_time": time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		})
	})
	return mux
}

func TestLoadTable(t *testing.T) {
	var calls int32
	var op string
	c := newTestClient(t, tableHandler(t, &calls, &op))

	h, err := c.LoadTable(context.Background(), catalog.TableName{Catalog: "main", Schema: "sales", Table: "orders"}, catalog.ReadWrite)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if op != "READ_WRITE" {
		t.Errorf("operation = %q, want READ_WRITE", op)
	}
	if h.Location != "s3://bucket/main/sales/orders" {
		t.Errorf("location = %q", h.Location)
	}
	if h.Credential.AccessKeyID != "AKIA" || h.Credential.SessionToken != "session" {
		t.Errorf("unexpected credential: %+v", h.Credential)
	}
	if !h.Credential.ExpiresAt.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expires_at = %v", h.Credential.ExpiresAt)
	}
	if h.Mode != catalog.ReadWrite {
		t.Errorf("mode = %v", h.Mode)
	}
}

func TestLoadTable_NotDelta(t *testing.T) {
	var calls int32
	var op string
	c := newTestClient(t, tableHandler(t, &calls, &op))

	_, err := c.LoadTable(context.Background(), catalog.TableName{Catalog: "main", Schema: "sales", Table: "view"}, catalog.Read)
	if gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if calls != 0 {
		t.Errorf("credentials requested %d times for a non-delta table", calls)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   gatewayerr.Kind
	}{
		{http.StatusNotFound, gatewayerr.KindNotFound},
		{http.StatusUnauthorized, gatewayerr.KindUnauthorized},
		{http.StatusForbidden, gatewayerr.KindUnauthorized},
		{http.StatusTooManyRequests, gatewayerr.KindUnavailable},
		{http.StatusBadGateway, gatewayerr.KindUnavailable},
		{http.StatusBadRequest, gatewayerr.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, apiError{ErrorCode: "SOME_CODE", Message: "nope"})
			}))
			_, err := c.GetTable(context.Background(), catalog.TableName{Catalog: "a", Schema: "b", Table: "c"})
			if got := gatewayerr.KindOf(err); got != tt.kind {
				t.Errorf("KindOf = %q, want %q (err=%v)", got, tt.kind, err)
			}
		})
	}
}

func TestForwardsIdentity(t *testing.T) {
	var auth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, listCatalogsResponse{})
	}))

	if _, err := c.ListCatalogs(context.Background()); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer service-token" {
		t.Errorf("without identity: Authorization = %q", auth)
	}

	ctx := catalog.WithIdentity(context.Background(), catalog.Identity{Subject: "alice", Token: "user-token"})
	if _, err := c.ListCatalogs(ctx); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer user-token" {
		t.Errorf("with identity: Authorization = %q", auth)
	}
}

func TestListCatalogs_Pagination(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, http.StatusOK, listCatalogsResponse{
				Catalogs:      []catalog.CatalogInfo{{Name: "main"}},
				NextPageToken: "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, listCatalogsResponse{Catalogs: []catalog.CatalogInfo{{Name: "dev"}}})
	}))

	got, err := c.ListCatalogs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "main" || got[1].Name != "dev" {
		t.Errorf("unexpected catalogs: %+v", got)
	}
}

func TestCreateTable_SendsExternalDelta(t *testing.T) {
	var body createTableBody
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/2.1/unity-catalog/tables" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, catalog.TableInfo{Name: body.Name, FullName: "main.sales.t"})
	}))

	_, err := c.CreateTable(context.Background(), catalog.CreateTableRequest{
		Catalog: "main", Schema: "sales", Name: "t", StorageLocation: "s3://b/main/sales/t/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if body.TableType != "EXTERNAL" || body.DataSourceFormat != "DELTA" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetTable(ctx, catalog.TableName{Catalog: "a", Schema: "b", Table: "c"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
