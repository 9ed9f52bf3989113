package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"askdb/internal/core"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		userID       string
		connectionID string
		opts         core.ExecuteOptions
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question of a stored connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.Join(args, " ")
			res, err := a.bridge.ExecuteNaturalLanguageQuery(cmd.Context(), userID, connectionID, question, opts)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return fmt.Errorf("query failed (%s)", res.ErrorKind)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user id that owns the connection")
	f.StringVar(&connectionID, "connection", "", "connection id")
	f.BoolVar(&opts.DryRun, "dry-run", false, "generate the SQL without running it")
	f.IntVar(&opts.MaxRows, "max-rows", 0, "row cap (server default when 0)")
	f.DurationVar(&opts.Timeout, "timeout", 0, "statement timeout (server default when 0)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func printResult(w io.Writer, res *core.ExecutionResult) {
	fmt.Fprintf(w, "SQL:\n  %s\n", res.GeneratedSQL)
	if res.Explanation != "" {
		fmt.Fprintf(w, "\n%s (confidence: %s)\n", res.Explanation, res.Confidence)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if !res.Success {
		fmt.Fprintf(w, "\nerror: %s\n", res.Error)
		return
	}
	if res.DryRun {
		return
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)

	header := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c.Name
	}
	table.SetHeader(header)
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			cells[i] = formatCell(row[c.Name])
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "%d row(s) in %s\n", res.RowCount, time.Duration(res.ExecutionTimeMs)*time.Millisecond)
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
