package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/heaplane/heaplane/cli/table"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/spf13/cobra"
)

type metricsOptions struct {
	limit        int
	from         int64
	to           int64
	outputFormat string
}

// metricsPayload mirrors the hub's metrics window response.
type metricsPayload struct {
	Service string             `json:"service"`
	Metrics []protocol.Metrics `json:"metrics"`
	Total   int                `json:"total"`
}

func newCmdMetrics() *cobra.Command {
	options := &metricsOptions{limit: 20, outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "metrics [flags] SERVICE",
		Short: "Show recent memory samples for a service",
		Long: `Show recent memory samples for a service.

Samples are ordered oldest first. --from and --to bound the window with
millisecond unix timestamps; --limit keeps the newest N samples of the window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			query := url.Values{}
			if options.limit > 0 {
				query.Set("limit", strconv.Itoa(options.limit))
			}
			if options.from > 0 {
				query.Set("from", strconv.FormatInt(options.from, 10))
			}
			if options.to > 0 {
				query.Set("to", strconv.FormatInt(options.to, 10))
			}
			path := fmt.Sprintf("/api/services/%s/metrics", url.PathEscape(args[0]))
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var payload metricsPayload
			if err := apiGet(cmd.Context(), path, &payload); err != nil {
				return err
			}

			return renderMetrics(os.Stdout, payload, options.outputFormat)
		},
	}

	cmd.PersistentFlags().IntVar(&options.limit, "limit", options.limit, "Maximum number of samples to fetch")
	cmd.PersistentFlags().Int64Var(&options.from, "from", options.from, "Only show samples at or after this unix millisecond timestamp")
	cmd.PersistentFlags().Int64Var(&options.to, "to", options.to, "Only show samples at or before this unix millisecond timestamp")
	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderMetrics(w io.Writer, payload metricsPayload, format string) error {
	if format == jsonOutput {
		return printJSON(w, payload)
	}

	rows := make([]table.Row, 0, len(payload.Metrics))
	for _, m := range payload.Metrics {
		leak := ""
		if m.LeakDetected {
			leak = fmt.Sprintf("+%.1f MB", m.MemoryGrowthMB)
		}
		rows = append(rows, table.Row{
			millisToTime(m.Timestamp).Format(time.RFC3339),
			fmt.Sprintf("%.1f", m.HeapUsedMB),
			fmt.Sprintf("%.1f", m.HeapTotalMB),
			fmt.Sprintf("%.1f", m.RSSMB),
			fmt.Sprintf("%.1f", m.ExternalMB),
			fmt.Sprintf("%.1f", m.EventLoopDelayMs),
			leak,
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "TIME", Width: 20, LeftAlign: true},
		{Header: "HEAP USED", Width: 9},
		{Header: "HEAP TOTAL", Width: 10},
		{Header: "RSS", Width: 8},
		{Header: "EXTERNAL", Width: 8},
		{Header: "LOOP MS", Width: 7},
		{Header: "LEAK", Width: 9, LeftAlign: true},
	}, rows)
	tbl.EmptyMessage = fmt.Sprintf("No samples recorded for %s.", payload.Service)
	tbl.Render(w)

	if len(payload.Metrics) > 0 && payload.Total > len(payload.Metrics) {
		fmt.Fprintf(w, "\nShowing %d of %d samples in the window.\n", len(payload.Metrics), payload.Total)
	}
	return nil
}
