package cmd

import (
	"fmt"
	"io"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/heaplane/heaplane/cli/table"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/spf13/cobra"
)

type servicesOptions struct {
	outputFormat string
}

func newCmdServices() *cobra.Command {
	options := &servicesOptions{outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List the services the hub is tracking",
		Long: `List the services the hub is tracking.

Connected services are reporting memory metrics; disconnected ones have gone
silent or dropped their socket but are retained for inspection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			var services []protocol.ServiceInfo
			if err := apiGet(cmd.Context(), "/api/services", &services); err != nil {
				return err
			}

			return renderServices(os.Stdout, services, options.outputFormat)
		},
	}

	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderServices(w io.Writer, services []protocol.ServiceInfo, format string) error {
	if format == jsonOutput {
		return printJSON(w, services)
	}

	rows := make([]table.Row, 0, len(services))
	for _, svc := range services {
		rss, heapUsed, heapTotal := "-", "-", "-"
		if m := svc.LastMetrics; m != nil {
			rss = fmt.Sprintf("%.1f MB", m.RSSMB)
			heapUsed = fmt.Sprintf("%.1f MB", m.HeapUsedMB)
			heapTotal = fmt.Sprintf("%.1f MB", m.HeapTotalMB)
		}
		rows = append(rows, table.Row{
			svc.Name,
			svc.Status,
			rss,
			heapUsed,
			heapTotal,
			fmt.Sprintf("%d", svc.TotalAlerts),
			humanize.Time(millisToTime(svc.LastSeen)),
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "STATUS", Width: 12, LeftAlign: true},
		{Header: "RSS", Width: 10},
		{Header: "HEAP USED", Width: 10},
		{Header: "HEAP TOTAL", Width: 10},
		{Header: "ALERTS", Width: 6},
		{Header: "LAST SEEN", Flexible: true, LeftAlign: true},
	}, rows)
	tbl.Sort = []int{0}
	tbl.EmptyMessage = "No services are connected to the hub."
	tbl.Render(w)
	return nil
}
