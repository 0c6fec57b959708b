package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vegasq/deltagate"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/mutation"
	"github.com/vegasq/deltagate/output"
	"github.com/vegasq/deltagate/tableformat"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 64 << 20

// Gateway is what the API serves.
type Gateway interface {
	ListCatalogs(ctx context.Context) ([]catalog.CatalogInfo, error)
	ListSchemas(ctx context.Context, cat string) ([]catalog.SchemaInfo, error)
	ListTables(ctx context.Context, cat, schema string) ([]catalog.TableInfo, error)
	GetTable(ctx context.Context, name string) (catalog.TableInfo, error)
	CreateSchema(ctx context.Context, req catalog.CreateSchemaRequest) (catalog.SchemaInfo, error)
	CreateTable(ctx context.Context, req catalog.CreateTableRequest) (catalog.TableInfo, error)
	TableHistory(ctx context.Context, name string, limit int) ([]tableformat.CommitInfo, error)
	RunQuery(ctx context.Context, sql string) (*deltagate.QueryResult, error)
	ApplyMutation(ctx context.Context, req mutation.Request) (*mutation.Result, error)
}

// APIHandler returns a chi router with the gateway REST API.
//
//	GET    /catalogs                                        list catalog names
//	GET    /catalogs/{catalog}/schemas                      list schema names
//	POST   /catalogs/{catalog}/schemas                      create schema
//	GET    /catalogs/{catalog}/schemas/{schema}/tables      list table names
//	POST   /catalogs/{catalog}/schemas/{schema}/tables      create external Delta table
//	GET    /catalogs/{catalog}/schemas/{schema}/tables/{table}          table info
//	GET    /catalogs/{catalog}/schemas/{schema}/tables/{table}/history  commit log
//	POST   /sql/query                                       run a query
//	POST   /data                                            append rows
//	PATCH  /data                                            merge-update rows
//	DELETE /data                                            merge-delete rows
//	POST   /data/compact                                    compact small files
//	POST   /data/vacuum                                     delete unreferenced files
func APIHandler(gw Gateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &api{gw: gw, logger: logger}

	r := chi.NewRouter()
	r.Use(identity)

	r.Get("/catalogs", h.listCatalogs)
	r.Get("/catalogs/{catalog}/schemas", h.listSchemas)
	r.Post("/catalogs/{catalog}/schemas", h.createSchema)
	r.Get("/catalogs/{catalog}/schemas/{schema}/tables", h.listTables)
	r.Post("/catalogs/{catalog}/schemas/{schema}/tables", h.createTable)
	r.Get("/catalogs/{catalog}/schemas/{schema}/tables/{table}", h.getTable)
	r.Get("/catalogs/{catalog}/schemas/{schema}/tables/{table}/history", h.tableHistory)

	r.Post("/sql/query", h.query)

	r.Post("/data", h.mutate(mutation.Append))
	r.Patch("/data", h.mutate(mutation.MergeUpdate))
	r.Delete("/data", h.mutate(mutation.MergeDelete))
	r.Post("/data/compact", h.mutate(mutation.Compact))
	r.Post("/data/vacuum", h.mutate(mutation.Vacuum))

	return r
}

type api struct {
	gw     Gateway
	logger *slog.Logger
}

func (h *api) listCatalogs(w http.ResponseWriter, r *http.Request) {
	cats, err := h.gw.ListCatalogs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *api) listSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.gw.ListSchemas(r.Context(), chi.URLParam(r, "catalog"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *api) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.gw.ListTables(r.Context(), chi.URLParam(r, "catalog"), chi.URLParam(r, "schema"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	writeJSON(w, http.StatusOK, names)
}

type createSchemaBody struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
}

func (h *api) createSchema(w http.ResponseWriter, r *http.Request) {
	var body createSchemaBody
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.gw.CreateSchema(r.Context(), catalog.CreateSchemaRequest{
		Catalog: chi.URLParam(r, "catalog"),
		Name:    body.Name,
		Comment: body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

type createTableBody struct {
	Name            string               `json:"name"`
	Columns         []catalog.ColumnInfo `json:"columns"`
	Comment         string               `json:"comment"`
	StorageLocation string               `json:"storage_location"`
}

func (h *api) createTable(w http.ResponseWriter, r *http.Request) {
	var body createTableBody
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.gw.CreateTable(r.Context(), catalog.CreateTableRequest{
		Catalog:         chi.URLParam(r, "catalog"),
		Schema:          chi.URLParam(r, "schema"),
		Name:            body.Name,
		Columns:         body.Columns,
		Comment:         body.Comment,
		StorageLocation: body.StorageLocation,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func tableParam(r *http.Request) string {
	return chi.URLParam(r, "catalog") + "." + chi.URLParam(r, "schema") + "." + chi.URLParam(r, "table")
}

func (h *api) getTable(w http.ResponseWriter, r *http.Request) {
	info, err := h.gw.GetTable(r.Context(), tableParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *api) tableHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, gatewayerr.Invalid("limit must be a non-negative integer, got %q", s))
			return
		}
		limit = n
	}
	history, err := h.gw.TableHistory(r.Context(), tableParam(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type queryBody struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Data []output.Record `json:"data"`
	Plan string          `json:"plan"`
}

func (h *api) query(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Query == "" {
		h.writeError(w, r, gatewayerr.Invalid("query is required"))
		return
	}
	res, err := h.gw.RunQuery(r.Context(), body.Query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data := output.Records(res.Result())
	if data == nil {
		data = []output.Record{}
	}
	w.Header().Set("X-Processing-Time", strconv.FormatFloat(res.Duration.Seconds(), 'f', -1, 64))
	writeJSON(w, http.StatusOK, queryResponse{Data: data, Plan: res.Plan})
}

type partitionFilterBody struct {
	Column   string          `json:"column"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// values accepts a scalar or a list of scalars.
func (f partitionFilterBody) values() ([]string, error) {
	if len(f.Value) == 0 {
		return nil, nil
	}
	var list []interface{}
	if err := json.Unmarshal(f.Value, &list); err != nil {
		var one interface{}
		if err := json.Unmarshal(f.Value, &one); err != nil {
			return nil, err
		}
		list = []interface{}{one}
	}
	out := make([]string, len(list))
	for i, v := range list {
		switch v := v.(type) {
		case string:
			out[i] = v
		case nil:
			return nil, fmt.Errorf("partition filter on %s has a null value", f.Column)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// dataBody is the payload of every /data endpoint; which fields apply
// depends on the route.
type dataBody struct {
	Catalog string `json:"catalog_name"`
	Schema  string `json:"schema_name"`
	Table   string `json:"table_name"`

	Values      []map[string]interface{} `json:"values"`
	PartitionBy []string                 `json:"partition_by"`
	Mode        tableformat.SaveMode     `json:"mode"`

	Predicate        string            `json:"predicate"`
	Updates          map[string]string `json:"updates"`
	MatchedPredicate string            `json:"matched_predicate"`

	PartitionFilters []partitionFilterBody `json:"partition_filters"`
	TargetSize       int64                 `json:"target_size"`

	RetentionHours   *float64 `json:"retention_hours"`
	DryRun           bool     `json:"dry_run"`
	EnforceRetention *bool    `json:"enforce_retention_duration"`
}

func (b dataBody) request(kind mutation.Kind) (mutation.Request, error) {
	if b.Catalog == "" || b.Schema == "" || b.Table == "" {
		return mutation.Request{}, gatewayerr.Invalid("catalog_name, schema_name and table_name are required")
	}
	req := mutation.Request{
		Kind:             kind,
		Table:            b.Catalog + "." + b.Schema + "." + b.Table,
		Rows:             b.Values,
		PartitionBy:      b.PartitionBy,
		Mode:             b.Mode,
		Predicate:        b.Predicate,
		Updates:          b.Updates,
		MatchedPredicate: b.MatchedPredicate,
		TargetSize:       b.TargetSize,
		RetentionHours:   b.RetentionHours,
		DryRun:           b.DryRun,
		EnforceRetention: true,
	}
	if b.EnforceRetention != nil {
		req.EnforceRetention = *b.EnforceRetention
	}
	for _, f := range b.PartitionFilters {
		values, err := f.values()
		if err != nil {
			return mutation.Request{}, &gatewayerr.InvalidRequestError{Reason: "partition filter value", Err: err}
		}
		req.PartitionFilters = append(req.PartitionFilters, tableformat.PartitionFilter{
			Column: f.Column,
			Op:     f.Operator,
			Values: values,
		})
	}
	return req, nil
}

func (h *api) mutate(kind mutation.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dataBody
		if err := decode(w, r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		req, err := body.request(kind)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		res, err := h.gw.ApplyMutation(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		switch kind {
		case mutation.Compact:
			writeJSON(w, http.StatusOK, res.Compact)
		case mutation.Vacuum:
			files := res.Vacuum.Files
			if files == nil {
				files = []string{}
			}
			writeJSON(w, http.StatusOK, files)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &gatewayerr.InvalidRequestError{Reason: "invalid JSON", Err: err}
	}
	return nil
}

type errorResponse struct {
	Error string          `json:"error"`
	Kind  gatewayerr.Kind `json:"kind"`
}

func (h *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := gatewayerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: gatewayerr.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
