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

// comparisonSession mirrors the hub's comparison session record.
type comparisonSession struct {
	SessionID        string                   `json:"sessionId"`
	ServiceName      string                   `json:"serviceName"`
	ContainerID      string                   `json:"containerId"`
	BeforeSnapshotID string                   `json:"beforeSnapshotId"`
	AfterSnapshotID  string                   `json:"afterSnapshotId"`
	CreatedAt        int64                    `json:"createdAt"`
	Status           string                   `json:"status"`
	Error            string                   `json:"error"`
	Analysis         *protocol.AnalysisReport `json:"analysis"`
}

type comparisonsOptions struct {
	outputFormat string
}

func newCmdComparisons() *cobra.Command {
	options := &comparisonsOptions{outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "comparisons",
		Short: "List before/after comparison sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			var sessions []comparisonSession
			if err := apiGet(cmd.Context(), "/api/snapshots/comparisons", &sessions); err != nil {
				return err
			}

			return renderComparisons(os.Stdout, sessions, options.outputFormat)
		},
	}

	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderComparisons(w io.Writer, sessions []comparisonSession, format string) error {
	if format == jsonOutput {
		return printJSON(w, sessions)
	}

	rows := make([]table.Row, 0, len(sessions))
	for _, sess := range sessions {
		growth, suspicious := "-", "-"
		if sess.Analysis != nil {
			growth = fmt.Sprintf("%.1f MB", sess.Analysis.Summary.TotalGrowthMB)
			suspicious = fmt.Sprintf("%t", sess.Analysis.Summary.SuspiciousGrowth)
		}
		detail := sess.Error
		rows = append(rows, table.Row{
			sess.SessionID,
			sess.ServiceName,
			sess.Status,
			growth,
			suspicious,
			humanize.Time(millisToTime(sess.CreatedAt)),
			detail,
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "SESSION", Flexible: true, LeftAlign: true},
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "STATUS", Width: 9, LeftAlign: true},
		{Header: "GROWTH", Width: 9},
		{Header: "SUSPICIOUS", Width: 10},
		{Header: "AGE", Width: 14, LeftAlign: true},
		{Header: "ERROR", Flexible: true, LeftAlign: true},
	}, rows)
	tbl.EmptyMessage = "No comparison sessions recorded."
	tbl.Render(w)
	return nil
}
