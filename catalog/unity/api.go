package unity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

type listCatalogsResponse struct {
	Catalogs      []catalog.CatalogInfo `json:"catalogs"`
	NextPageToken string                `json:"next_page_token"`
}

type listSchemasResponse struct {
	Schemas       []catalog.SchemaInfo `json:"schemas"`
	NextPageToken string               `json:"next_page_token"`
}

type listTablesResponse struct {
	Tables        []catalog.TableInfo `json:"tables"`
	NextPageToken string              `json:"next_page_token"`
}

type createTableBody struct {
	Name             string               `json:"name"`
	CatalogName      string               `json:"catalog_name"`
	SchemaName       string               `json:"schema_name"`
	TableType        string               `json:"table_type"`
	DataSourceFormat string               `json:"data_source_format"`
	Columns          []catalog.ColumnInfo `json:"columns"`
	StorageLocation  string               `json:"storage_location"`
	Comment          string               `json:"comment,omitempty"`
}

type credentialsRequest struct {
	TableID   string `json:"table_id"`
	Operation string `json:"operation"`
}

type credentialsResponse struct {
	AWSTempCredentials *struct {
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
		SessionToken    string `json:"session_token"`
	} `json:"aws_temp_credentials,omitempty"`
	AzureUserDelegationSAS *struct {
		SASToken string `json:"sas_token"`
	} `json:"azure_user_delegation_sas,omitempty"`
	GCPOAuthToken *struct {
		OAuthToken string `json:"oauth_token"`
	} `json:"gcp_oauth_token,omitempty"`
	ExpirationTime int64  `json:"expiration_time"`
	URL            string `json:"url"`
}

// maxPages bounds pagination against a misbehaving server.
const maxPages = 1000

func (c *Client) ListCatalogs(ctx context.Context) ([]catalog.CatalogInfo, error) {
	var out []catalog.CatalogInfo
	q := url.Values{}
	for page := 0; page < maxPages; page++ {
		var resp listCatalogsResponse
		if err := c.do(ctx, "list_catalogs", http.MethodGet, "/catalogs", q, nil, &resp, "catalogs"); err != nil {
			return nil, err
		}
		out = append(out, resp.Catalogs...)
		if resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", resp.NextPageToken)
	}
	return out, nil
}

func (c *Client) ListSchemas(ctx context.Context, cat string) ([]catalog.SchemaInfo, error) {
	var out []catalog.SchemaInfo
	q := url.Values{"catalog_name": {cat}}
	for page := 0; page < maxPages; page++ {
		var resp listSchemasResponse
		if err := c.do(ctx, "list_schemas", http.MethodGet, "/schemas", q, nil, &resp, cat); err != nil {
			return nil, err
		}
		out = append(out, resp.Schemas...)
		if resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", resp.NextPageToken)
	}
	return out, nil
}

func (c *Client) ListTables(ctx context.Context, cat, schema string) ([]catalog.TableInfo, error) {
	var out []catalog.TableInfo
	q := url.Values{"catalog_name": {cat}, "schema_name": {schema}}
	for page := 0; page < maxPages; page++ {
		var resp listTablesResponse
		if err := c.do(ctx, "list_tables", http.MethodGet, "/tables", q, nil, &resp, cat+"."+schema); err != nil {
			return nil, err
		}
		out = append(out, resp.Tables...)
		if resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", resp.NextPageToken)
	}
	return out, nil
}

func (c *Client) GetTable(ctx context.Context, name catalog.TableName) (catalog.TableInfo, error) {
	var info catalog.TableInfo
	path := "/tables/" + name.String()
	if err := c.do(ctx, "get_table", http.MethodGet, path, nil, nil, &info, name.String()); err != nil {
		return catalog.TableInfo{}, err
	}
	return info, nil
}

func (c *Client) CreateSchema(ctx context.Context, req catalog.CreateSchemaRequest) (catalog.SchemaInfo, error) {
	if req.Catalog == "" || req.Name == "" {
		return catalog.SchemaInfo{}, gatewayerr.Invalid("catalog and schema name are required")
	}
	body := map[string]string{"name": req.Name, "catalog_name": req.Catalog}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}
	var info catalog.SchemaInfo
	if err := c.do(ctx, "create_schema", http.MethodPost, "/schemas", nil, body, &info, req.Catalog+"."+req.Name); err != nil {
		return catalog.SchemaInfo{}, err
	}
	return info, nil
}

// CreateTable registers an external Delta table at req.StorageLocation.
func (c *Client) CreateTable(ctx context.Context, req catalog.CreateTableRequest) (catalog.TableInfo, error) {
	if req.Catalog == "" || req.Schema == "" || req.Name == "" {
		return catalog.TableInfo{}, gatewayerr.Invalid("catalog, schema and table name are required")
	}
	if req.StorageLocation == "" {
		return catalog.TableInfo{}, gatewayerr.Invalid("storage location is required for external tables")
	}
	cols := req.Columns
	if cols == nil {
		cols = []catalog.ColumnInfo{}
	}
	body := createTableBody{
		Name:             req.Name,
		CatalogName:      req.Catalog,
		SchemaName:       req.Schema,
		TableType:        catalog.TableTypeExternal,
		DataSourceFormat: catalog.FormatDelta,
		Columns:          cols,
		StorageLocation:  req.StorageLocation,
		Comment:          req.Comment,
	}
	var info catalog.TableInfo
	full := req.Catalog + "." + req.Schema + "." + req.Name
	if err := c.do(ctx, "create_table", http.MethodPost, "/tables", nil, body, &info, full); err != nil {
		return catalog.TableInfo{}, err
	}
	return info, nil
}

// LoadTable resolves name and requests a credential for mode.
func (c *Client) LoadTable(ctx context.Context, name catalog.TableName, mode catalog.AccessMode) (catalog.TableHandle, error) {
	info, err := c.GetTable(ctx, name)
	if err != nil {
		return catalog.TableHandle{}, err
	}
	if !info.Loadable() {
		return catalog.TableHandle{}, gatewayerr.Invalid("table %s is %s/%s, expected a managed or external delta table",
			name, info.TableType, info.DataSourceFormat)
	}

	var creds credentialsResponse
	body := credentialsRequest{TableID: info.TableID, Operation: mode.String()}
	if err := c.do(ctx, "temporary_credentials", http.MethodPost, "/temporary-table-credentials", nil, body, &creds, name.String()); err != nil {
		var unauthorized *gatewayerr.UnauthorizedError
		if errors.As(err, &unauthorized) {
			unauthorized.Mode = mode.String()
		}
		return catalog.TableHandle{}, err
	}

	location := info.StorageLocation
	if creds.URL != "" {
		location = creds.URL
	}
	handle := catalog.TableHandle{
		Name:     name.String(),
		TableID:  info.TableID,
		Location: strings.TrimRight(location, "/"),
		Mode:     mode,
	}
	if creds.ExpirationTime > 0 {
		handle.Credential.ExpiresAt = time.UnixMilli(creds.ExpirationTime)
	}
	switch {
	case creds.AWSTempCredentials != nil:
		handle.Credential.AccessKeyID = creds.AWSTempCredentials.AccessKeyID
		handle.Credential.SecretAccessKey = creds.AWSTempCredentials.SecretAccessKey
		handle.Credential.SessionToken = creds.AWSTempCredentials.SessionToken
	case creds.AzureUserDelegationSAS != nil:
		handle.Credential.Token = creds.AzureUserDelegationSAS.SASToken
	case creds.GCPOAuthToken != nil:
		handle.Credential.Token = creds.GCPOAuthToken.OAuthToken
	}
	return handle, nil
}
