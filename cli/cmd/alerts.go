package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	"github.com/heaplane/heaplane/cli/table"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/spf13/cobra"
)

type alertsOptions struct {
	service      string
	severity     string
	limit        int
	outputFormat string
}

func newCmdAlerts() *cobra.Command {
	options := &alertsOptions{limit: 50, outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recorded memory alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			query := url.Values{}
			if options.service != "" {
				query.Set("service", options.service)
			}
			if options.severity != "" {
				query.Set("severity", options.severity)
			}
			if options.limit > 0 {
				query.Set("limit", strconv.Itoa(options.limit))
			}
			path := "/api/alerts"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var alerts []protocol.Alert
			if err := apiGet(cmd.Context(), path, &alerts); err != nil {
				return err
			}

			return renderAlerts(os.Stdout, alerts, options.outputFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&options.service, "service", options.service, "Only show alerts for this service")
	cmd.PersistentFlags().StringVar(&options.severity, "severity", options.severity, "Only show alerts with this severity (info, warning, critical)")
	cmd.PersistentFlags().IntVar(&options.limit, "limit", options.limit, "Maximum number of alerts to fetch")
	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderAlerts(w io.Writer, alerts []protocol.Alert, format string) error {
	if format == jsonOutput {
		return printJSON(w, alerts)
	}

	rows := make([]table.Row, 0, len(alerts))
	for _, a := range alerts {
		detail := a.Message
		if a.MemoryGrowthMB != 0 {
			detail = fmt.Sprintf("%s (+%.1f MB)", a.Message, a.MemoryGrowthMB)
		}
		rows = append(rows, table.Row{
			humanize.Time(millisToTime(a.Timestamp)),
			a.Severity,
			a.Service,
			a.Kind,
			detail,
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "AGE", Width: 14, LeftAlign: true},
		{Header: "SEVERITY", Width: 8, LeftAlign: true},
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "TYPE", Width: 8, LeftAlign: true},
		{Header: "MESSAGE", Flexible: true, LeftAlign: true},
	}, rows)
	tbl.EmptyMessage = "No alerts recorded."
	tbl.Render(w)
	return nil
}
