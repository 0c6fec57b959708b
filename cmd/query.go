package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vegasq/deltagate/output"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a SQL query across catalog tables",
	Example: `  deltagate query -q "select * from main.sales.orders where amount > 30"
  deltagate query -f table -q "select status, count(*) from main.sales.orders group by status"
  deltagate query --explain -q "select * from main.sales.orders o join main.sales.customers c on o.customer_id = c.id"`,
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringP("query", "q", "", "SQL query")
	f.StringP("format", "f", "jsonl", "output format: "+strings.Join(output.Formats, ", "))
	f.Int("limit", 0, "limit number of rows printed (0 = unlimited)")
	f.Bool("explain", false, "print the execution plan instead of rows")
}

func runQuery(cmd *cobra.Command, args []string) error {
	sql, _ := cmd.Flags().GetString("query")
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("limit")
	explain, _ := cmd.Flags().GetBool("explain")

	if sql == "" {
		return fmt.Errorf("-q is required")
	}
	if limit < 0 {
		return fmt.Errorf("--limit must be non-negative, got %d", limit)
	}
	formatter, err := output.New(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	e, err := newEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.shutdown()

	res, err := e.gateway.RunQuery(cmd.Context(), sql)
	if err != nil {
		return err
	}
	if explain {
		_, err := fmt.Fprint(cmd.OutOrStdout(), res.Plan)
		return err
	}

	result := res.Result()
	if limit > 0 && len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
	}
	if err := formatter.Format(result); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	e.logger.Debug("query done", "rows", len(res.Rows), "duration", res.Duration)
	return nil
}
