package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/output"
	"github.com/vegasq/deltagate/query"
)

var catalogsCmd = &cobra.Command{
	Use:   "catalogs",
	Short: "List catalogs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		cats, err := e.gateway.ListCatalogs(cmd.Context())
		if err != nil {
			return err
		}
		res := &query.Result{Columns: []string{"name", "comment"}}
		for _, c := range cats {
			res.Rows = append(res.Rows, []interface{}{c.Name, c.Comment})
		}
		return printResult(cmd, res)
	},
}

var schemasCmd = &cobra.Command{
	Use:   "schemas CATALOG",
	Short: "List the schemas of a catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		schemas, err := e.gateway.ListSchemas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res := &query.Result{Columns: []string{"full_name", "comment"}}
		for _, s := range schemas {
			res.Rows = append(res.Rows, []interface{}{s.FullName, s.Comment})
		}
		return printResult(cmd, res)
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables CATALOG.SCHEMA",
	Short: "List the tables of a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, schema, ok := strings.Cut(args[0], ".")
		if !ok {
			return fmt.Errorf("expected CATALOG.SCHEMA, got %q", args[0])
		}
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		tables, err := e.gateway.ListTables(cmd.Context(), cat, schema)
		if err != nil {
			return err
		}
		res := &query.Result{Columns: []string{"full_name", "table_type", "format", "location"}}
		for _, t := range tables {
			res.Rows = append(res.Rows, []interface{}{t.FullName, t.TableType, t.DataSourceFormat, t.StorageLocation})
		}
		return printResult(cmd, res)
	},
}

var tableCmd = &cobra.Command{
	Use:   "table CATALOG.SCHEMA.TABLE",
	Short: "Describe a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		info, err := e.gateway.GetTable(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history CATALOG.SCHEMA.TABLE",
	Short: "Show the commit log of a table, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		history, err := e.gateway.TableHistory(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		res := &query.Result{Columns: []string{"version", "timestamp", "operation", "engine"}}
		for _, c := range history {
			res.Rows = append(res.Rows, []interface{}{c.Version, c.Timestamp, c.Operation, c.EngineInfo})
		}
		return printResult(cmd, res)
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register schemas and tables in the catalog",
}

var createSchemaCmd = &cobra.Command{
	Use:   "schema CATALOG.SCHEMA",
	Short: "Create a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, name, ok := strings.Cut(args[0], ".")
		if !ok {
			return fmt.Errorf("expected CATALOG.SCHEMA, got %q", args[0])
		}
		comment, _ := cmd.Flags().GetString("comment")
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		info, err := e.gateway.CreateSchema(cmd.Context(), catalog.CreateSchemaRequest{Catalog: cat, Name: name, Comment: comment})
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var createTableCmd = &cobra.Command{
	Use:   "table CATALOG.SCHEMA.TABLE",
	Short: "Create an external Delta table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := catalog.ParseTableName(args[0])
		if err != nil {
			return err
		}
		comment, _ := cmd.Flags().GetString("comment")
		location, _ := cmd.Flags().GetString("location")
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.shutdown()
		info, err := e.gateway.CreateTable(cmd.Context(), catalog.CreateTableRequest{
			Catalog:         name.Catalog,
			Schema:          name.Schema,
			Name:            name.Table,
			Comment:         comment,
			StorageLocation: location,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

func init() {
	for _, c := range []*cobra.Command{catalogsCmd, schemasCmd, tablesCmd, historyCmd} {
		c.Flags().StringP("format", "f", "table", "output format: "+strings.Join(output.Formats, ", "))
	}
	historyCmd.Flags().Int("limit", 0, "number of commits to show (0 = all)")

	createSchemaCmd.Flags().String("comment", "", "schema comment")
	createTableCmd.Flags().String("comment", "", "table comment")
	createTableCmd.Flags().String("location", "", "storage location (default: <storage location>/<catalog>/<schema>/<table>/)")
	createCmd.AddCommand(createSchemaCmd, createTableCmd)
}

func printResult(cmd *cobra.Command, res *query.Result) error {
	format, _ := cmd.Flags().GetString("format")
	formatter, err := output.New(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return formatter.Format(res)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
