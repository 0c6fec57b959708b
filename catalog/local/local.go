// Package local implements catalog.Catalog over a warehouse directory.
//
// Tables live at <warehouse>/<catalog>/<schema>/<table>/. Existing directories
// are discovered at Open; credentials are random tokens with a fixed lifetime,
// which makes the package suitable for development and tests.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

// DefaultCredentialTTL is the lifetime of issued credentials.
const DefaultCredentialTTL = time.Hour

type schemaEntry struct {
	info   catalog.SchemaInfo
	tables map[string]*tableEntry
}

type catalogEntry struct {
	info    catalog.CatalogInfo
	schemas map[string]*schemaEntry
}

type tableEntry struct {
	info      catalog.TableInfo
	readOnly  bool
	loadCount int
}

// Catalog is an in-process catalog. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	warehouse string
	catalogs  map[string]*catalogEntry
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCredentialTTL sets the lifetime of issued credentials.
func WithCredentialTTL(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock overrides the time source used for credential expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// Open creates a catalog rooted at warehouse, registering any
// catalog/schema/table directories already present.
func Open(warehouse string, opts ...Option) (*Catalog, error) {
	abs, err := filepath.Abs(warehouse)
	if err != nil {
		return nil, fmt.Errorf("resolve warehouse %s: %w", warehouse, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", abs, err)
	}
	c := &Catalog{
		warehouse: abs,
		catalogs:  make(map[string]*catalogEntry),
		ttl:       DefaultCredentialTTL,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.discover(); err != nil {
		return nil, err
	}
	return c, nil
}

// Warehouse returns the root directory.
func (c *Catalog) Warehouse() string { return c.warehouse }

func (c *Catalog) discover() error {
	cats, err := subdirs(c.warehouse)
	if err != nil {
		return err
	}
	for _, cat := range cats {
		c.ensureCatalog(cat)
		schemas, err := subdirs(filepath.Join(c.warehouse, cat))
		if err != nil {
			return err
		}
		for _, sch := range schemas {
			c.ensureSchema(cat, sch, "")
			tables, err := subdirs(filepath.Join(c.warehouse, cat, sch))
			if err != nil {
				return err
			}
			for _, tbl := range tables {
				c.register(cat, sch, tbl, filepath.Join(c.warehouse, cat, sch, tbl), nil, "")
			}
		}
	}
	return nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && !strings.HasPrefix(e.Name(), "_") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CreateCatalog registers a top-level catalog. It is idempotent.
func (c *Catalog) CreateCatalog(name string) error {
	if name == "" {
		return gatewayerr.Invalid("catalog name must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(c.warehouse, name), 0o755); err != nil {
		return fmt.Errorf("mkdir catalog %s: %w", name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureCatalog(name)
	return nil
}

// DenyWrite marks a table as readable only; READ_WRITE loads are refused.
func (c *Catalog) DenyWrite(name catalog.TableName) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookup(name)
	if err != nil {
		return err
	}
	t.readOnly = true
	return nil
}

// LoadCount reports how many times name has been loaded.
func (c *Catalog) LoadCount(name catalog.TableName) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := c.lookup(name)
	if err != nil {
		return 0
	}
	return t.loadCount
}

func (c *Catalog) ensureCatalog(name string) *catalogEntry {
	key := strings.ToLower(name)
	if e, ok := c.catalogs[key]; ok {
		return e
	}
	e := &catalogEntry{info: catalog.CatalogInfo{Name: name}, schemas: make(map[string]*schemaEntry)}
	c.catalogs[key] = e
	return e
}

func (c *Catalog) ensureSchema(cat, name, comment string) *schemaEntry {
	ce := c.ensureCatalog(cat)
	key := strings.ToLower(name)
	if s, ok := ce.schemas[key]; ok {
		return s
	}
	s := &schemaEntry{
		info: catalog.SchemaInfo{
			Name:        name,
			CatalogName: ce.info.Name,
			FullName:    ce.info.Name + "." + name,
			Comment:     comment,
		},
		tables: make(map[string]*tableEntry),
	}
	ce.schemas[key] = s
	return s
}

func (c *Catalog) register(cat, sch, name, location string, cols []catalog.ColumnInfo, comment string) *tableEntry {
	se := c.ensureSchema(cat, sch, "")
	t := &tableEntry{info: catalog.TableInfo{
		Name:             name,
		CatalogName:      se.info.CatalogName,
		SchemaName:       se.info.Name,
		FullName:         se.info.FullName + "." + name,
		TableType:        catalog.TableTypeExternal,
		DataSourceFormat: catalog.FormatDelta,
		StorageLocation:  location,
		TableID:          uuid.NewString(),
		Columns:          cols,
		Comment:          comment,
	}}
	se.tables[strings.ToLower(name)] = t
	return t
}

func (c *Catalog) lookup(name catalog.TableName) (*tableEntry, error) {
	ce, ok := c.catalogs[strings.ToLower(name.Catalog)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: name.String(), Err: fmt.Errorf("catalog %s does not exist", name.Catalog)}
	}
	se, ok := ce.schemas[strings.ToLower(name.Schema)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: name.String(), Err: fmt.Errorf("schema %s.%s does not exist", name.Catalog, name.Schema)}
	}
	t, ok := se.tables[strings.ToLower(name.Table)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: name.String()}
	}
	return t, nil
}

func (c *Catalog) ListCatalogs(ctx context.Context) ([]catalog.CatalogInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.CatalogInfo, 0, len(c.catalogs))
	for _, e := range c.catalogs {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) ListSchemas(ctx context.Context, cat string) ([]catalog.SchemaInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ce, ok := c.catalogs[strings.ToLower(cat)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: cat, Err: fmt.Errorf("catalog does not exist")}
	}
	out := make([]catalog.SchemaInfo, 0, len(ce.schemas))
	for _, s := range ce.schemas {
		out = append(out, s.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) ListTables(ctx context.Context, cat, schema string) ([]catalog.TableInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ce, ok := c.catalogs[strings.ToLower(cat)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: cat, Err: fmt.Errorf("catalog does not exist")}
	}
	se, ok := ce.schemas[strings.ToLower(schema)]
	if !ok {
		return nil, &gatewayerr.NotFoundError{Table: cat + "." + schema, Err: fmt.Errorf("schema does not exist")}
	}
	out := make([]catalog.TableInfo, 0, len(se.tables))
	for _, t := range se.tables {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) GetTable(ctx context.Context, name catalog.TableName) (catalog.TableInfo, error) {
	if err := ctx.Err(); err != nil {
		return catalog.TableInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := c.lookup(name)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	return t.info, nil
}

func (c *Catalog) CreateSchema(ctx context.Context, req catalog.CreateSchemaRequest) (catalog.SchemaInfo, error) {
	if err := ctx.Err(); err != nil {
		return catalog.SchemaInfo{}, err
	}
	if req.Catalog == "" || req.Name == "" {
		return catalog.SchemaInfo{}, gatewayerr.Invalid("catalog and schema name are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.catalogs[strings.ToLower(req.Catalog)]; !ok {
		return catalog.SchemaInfo{}, &gatewayerr.NotFoundError{Table: req.Catalog, Err: fmt.Errorf("catalog does not exist")}
	}
	if err := os.MkdirAll(filepath.Join(c.warehouse, req.Catalog, req.Name), 0o755); err != nil {
		return catalog.SchemaInfo{}, fmt.Errorf("mkdir schema %s: %w", req.Name, err)
	}
	return c.ensureSchema(req.Catalog, req.Name, req.Comment).info, nil
}

func (c *Catalog) CreateTable(ctx context.Context, req catalog.CreateTableRequest) (catalog.TableInfo, error) {
	if err := ctx.Err(); err != nil {
		return catalog.TableInfo{}, err
	}
	if req.Catalog == "" || req.Schema == "" || req.Name == "" {
		return catalog.TableInfo{}, gatewayerr.Invalid("catalog, schema and table name are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.catalogs[strings.ToLower(req.Catalog)]
	if !ok {
		return catalog.TableInfo{}, &gatewayerr.NotFoundError{Table: req.Catalog, Err: fmt.Errorf("catalog does not exist")}
	}
	se, ok := ce.schemas[strings.ToLower(req.Schema)]
	if !ok {
		return catalog.TableInfo{}, &gatewayerr.NotFoundError{Table: req.Catalog + "." + req.Schema, Err: fmt.Errorf("schema does not exist")}
	}
	if _, exists := se.tables[strings.ToLower(req.Name)]; exists {
		return catalog.TableInfo{}, gatewayerr.Invalid("table %s.%s.%s already exists", req.Catalog, req.Schema, req.Name)
	}
	location := req.StorageLocation
	if location == "" {
		location = filepath.Join(c.warehouse, req.Catalog, req.Schema, req.Name)
	}
	if !strings.Contains(location, "://") {
		if err := os.MkdirAll(location, 0o755); err != nil {
			return catalog.TableInfo{}, fmt.Errorf("mkdir table %s: %w", req.Name, err)
		}
	}
	return c.register(req.Catalog, req.Schema, req.Name, location, req.Columns, req.Comment).info, nil
}

// LoadTable issues a fresh credential for name scoped to mode.
func (c *Catalog) LoadTable(ctx context.Context, name catalog.TableName, mode catalog.AccessMode) (catalog.TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return catalog.TableHandle{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookup(name)
	if err != nil {
		return catalog.TableHandle{}, err
	}
	if !t.info.Loadable() {
		return catalog.TableHandle{}, gatewayerr.Invalid("table %s is not a loadable delta table", name)
	}
	if mode == catalog.ReadWrite && t.readOnly {
		return catalog.TableHandle{}, &gatewayerr.UnauthorizedError{Table: name.String(), Mode: mode.String()}
	}
	t.loadCount++
	return catalog.TableHandle{
		Name:     t.info.FullName,
		TableID:  t.info.TableID,
		Location: t.info.StorageLocation,
		Mode:     mode,
		Credential: catalog.Credential{
			Token:     uuid.NewString(),
			ExpiresAt: c.now().Add(c.ttl),
		},
	}, nil
}
