// Package catalog models the governance catalog: the namespace of
// catalogs, schemas and tables, and the table-loading capability that turns
// a fully-qualified name into a physical location plus a scoped, expiring
// storage credential.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AccessMode is the access level a storage credential is scoped to.
type AccessMode int

const (
	Read AccessMode = iota
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case Read:
		return "READ"
	case ReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

// ParseAccessMode accepts READ and READ_WRITE in any case.
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ":
		return Read, nil
	case "READ_WRITE", "READWRITE":
		return ReadWrite, nil
	}
	return Read, fmt.Errorf("unknown access mode %q (expected READ or READ_WRITE)", s)
}

// Credential is an opaque, short-lived storage credential. Token carries
// SAS-style or bearer tokens; the AWS fields carry temporary S3 keys.
type Credential struct {
	Token           string    `json:"-"`
	AccessKeyID     string    `json:"-"`
	SecretAccessKey string    `json:"-"`
	SessionToken    string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the credential is no longer valid at now.
// A zero ExpiresAt never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TableHandle is a resolved table: where its files live and the credential
// to reach them, scoped to Mode.
type TableHandle struct {
	Name       string     `json:"name"`
	TableID    string     `json:"table_id,omitempty"`
	Location   string     `json:"location"`
	Mode       AccessMode `json:"-"`
	Credential Credential `json:"credential"`
}

// Usable reports whether the handle may still be used for I/O at now.
func (h TableHandle) Usable(now time.Time) bool {
	return !h.Credential.Expired(now)
}

// Table kinds and formats as reported by the catalog.
const (
	TableTypeManaged  = "MANAGED"
	TableTypeExternal = "EXTERNAL"
	FormatDelta       = "DELTA"
)

// CatalogInfo describes a top-level catalog.
type CatalogInfo struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// SchemaInfo describes a schema inside a catalog.
type SchemaInfo struct {
	Name        string `json:"name"`
	CatalogName string `json:"catalog_name"`
	FullName    string `json:"full_name"`
	Comment     string `json:"comment,omitempty"`
}

// ColumnInfo describes one table column.
type ColumnInfo struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	TypeText string `json:"type_text,omitempty"`
	Position int    `json:"position"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

// TableInfo describes a registered table.
type TableInfo struct {
	Name             string       `json:"name"`
	CatalogName      string       `json:"catalog_name"`
	SchemaName       string       `json:"schema_name"`
	FullName         string       `json:"full_name"`
	TableType        string       `json:"table_type"`
	DataSourceFormat string       `json:"data_source_format"`
	StorageLocation  string       `json:"storage_location"`
	TableID          string       `json:"table_id,omitempty"`
	Columns          []ColumnInfo `json:"columns,omitempty"`
	Comment          string       `json:"comment,omitempty"`
}

// Loadable reports whether the table is a catalog-governed Delta table
// backed by addressable storage.
func (t TableInfo) Loadable() bool {
	if !strings.EqualFold(t.DataSourceFormat, FormatDelta) {
		return false
	}
	switch strings.ToUpper(t.TableType) {
	case TableTypeManaged, TableTypeExternal:
		return t.StorageLocation != ""
	}
	return false
}

// CreateSchemaRequest registers a new schema.
type CreateSchemaRequest struct {
	Catalog string `json:"catalog_name"`
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// CreateTableRequest registers a new external Delta table.
type CreateTableRequest struct {
	Catalog         string       `json:"catalog_name"`
	Schema          string       `json:"schema_name"`
	Name            string       `json:"name"`
	Columns         []ColumnInfo `json:"columns,omitempty"`
	StorageLocation string       `json:"storage_location,omitempty"`
	Comment         string       `json:"comment,omitempty"`
}

// Catalog is the governance catalog capability set. LoadTable issues a
// credential scoped to mode; implementations map their failures onto
// gatewayerr NotFound, Unauthorized and Unavailable.
type Catalog interface {
	ListCatalogs(ctx context.Context) ([]CatalogInfo, error)
	ListSchemas(ctx context.Context, catalog string) ([]SchemaInfo, error)
	ListTables(ctx context.Context, catalog, schema string) ([]TableInfo, error)
	GetTable(ctx context.Context, name TableName) (TableInfo, error)
	CreateSchema(ctx context.Context, req CreateSchemaRequest) (SchemaInfo, error)
	CreateTable(ctx context.Context, req CreateTableRequest) (TableInfo, error)
	LoadTable(ctx context.Context, name TableName, mode AccessMode) (TableHandle, error)
}
