package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query execution commands",
		Long:  `Execute, explain, and validate a SQL query through the Qserv master.`,
	}

	cmd.AddCommand(c.newQueryExecCmd())
	cmd.AddCommand(c.newQueryExplainCmd())
	cmd.AddCommand(c.newQueryValidateCmd())

	return cmd
}

func (c *CLI) requireDriver() error {
	if c.driver == nil {
		return fmt.Errorf("no topology configured; pass --topology or set auth.topology in the master config")
	}
	return nil
}

func (c *CLI) newQueryExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <SQL>",
		Short: "Execute a SQL query",
		Long: `Parse, plan, and dispatch a SQL query across the worker fleet, then
merge and print the result.

Example:
  qserv-master query exec "SELECT * FROM Object WHERE objectId=12345"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQueryExec(args[0])
		},
	}
}

func (c *CLI) runQueryExec(sqlQuery string) error {
	if err := c.requireDriver(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := c.driver.Execute(ctx, sqlQuery, c.cfg.Auth.Token)
	if err != nil {
		if c.jsonOutput {
			return c.outputJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		}
		c.errorf("Query failed: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(result)
	}

	c.printf("Query ID: %s\n", result.QueryID)
	c.printf("Chunks:   %d\n", result.ChunkCount)
	c.printf("Duration: %s\n", result.Duration)
	c.printf("Rows:     %d\n", len(result.Rows))

	if len(result.Columns) > 0 && len(result.Rows) > 0 {
		c.println("")
		c.println(strings.Join(result.Columns, "\t"))
		for _, row := range result.Rows {
			values := make([]string, 0, len(result.Columns))
			for _, col := range result.Columns {
				values = append(values, formatValue(row[col]))
			}
			c.println(strings.Join(values, "\t"))
		}
	}

	return nil
}

// formatValue formats a value for tab-separated display.
func formatValue(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}

func (c *CLI) newQueryExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <SQL>",
		Short: "Explain how a query will be planned and dispatched",
		Long: `Run the plugin pipeline and chunk-set resolution without dispatching,
and show the resulting plan: dominant database, chunked tables referenced,
whether a merge phase is required, and the chunk count the query would run
against.

Example:
  qserv-master query explain "SELECT SUM(x) FROM Object GROUP BY chunkId"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQueryExplain(args[0])
		},
	}
}

func (c *CLI) runQueryExplain(sqlQuery string) error {
	if err := c.requireDriver(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := c.driver.Explain(ctx, sqlQuery)
	if err != nil {
		if c.jsonOutput {
			return c.outputJSON(map[string]interface{}{
				"valid": false,
				"error": err.Error(),
				"query": sqlQuery,
			})
		}
		c.errorf("Explain failed: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(result)
	}

	c.println("Query Plan")
	c.println("==========")
	c.println("")
	c.printf("Dominant database: %s\n", result.DominantDB)
	if len(result.ChunkedTables) > 0 {
		c.printf("Chunked tables:    %s\n", strings.Join(result.ChunkedTables, ", "))
	} else {
		c.println("Chunked tables:    (none — not a chunked query)")
	}
	c.printf("Sub-chunked:       %v\n", result.SubChunked)
	c.printf("Needs merge:       %v\n", result.NeedsMerge)
	c.printf("Chunk count:       %d\n", result.ChunkCount)
	if result.MergeStmt != "" {
		c.println("")
		c.println("Merge statement:")
		c.printf("  %s\n", result.MergeStmt)
	}

	return nil
}

func (c *CLI) newQueryValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <SQL>",
		Short: "Validate a query without execution",
		Long: `Run the parser and plugin pipeline only, reporting an analysis error
without dispatching anything. Useful for CI pipelines and pre-flight checks.

Example:
  qserv-master query validate "SELECT * FROM Object"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQueryValidate(args[0])
		},
	}
}

func (c *CLI) runQueryValidate(sqlQuery string) error {
	if err := c.requireDriver(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.driver.Validate(ctx, sqlQuery); err != nil {
		if c.jsonOutput {
			return c.outputJSON(map[string]interface{}{
				"valid":  false,
				"query":  sqlQuery,
				"errors": []string{err.Error()},
			})
		}
		c.errorf("✗ Invalid: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"valid": true,
			"query": sqlQuery,
		})
	}

	c.println("✓ Valid")
	return nil
}

// sortedKeys is a small shared helper for commands rendering map output
// deterministically.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
