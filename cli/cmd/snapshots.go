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

type snapshotsOptions struct {
	sessions     bool
	outputFormat string
}

type (
	// snapshotSession mirrors the hub's filename-derived session grouping.
	snapshotSession struct {
		SessionID   string                  `json:"sessionId"`
		ServiceName string                  `json:"serviceName"`
		Snapshots   []protocol.SnapshotInfo `json:"snapshots"`
		Complete    bool                    `json:"complete"`
	}

	// snapshotsPayload mirrors the hub's snapshot listing response.
	snapshotsPayload struct {
		Snapshots []protocol.SnapshotInfo `json:"snapshots"`
		Sessions  []snapshotSession       `json:"sessions"`
	}
)

func newCmdSnapshots() *cobra.Command {
	options := &snapshotsOptions{outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List heap snapshots held by the hub",
		Long: `List heap snapshots held by the hub.

With --sessions, group snapshots into before/after capture sessions derived
from their filenames; complete sessions are ready for comparison.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			var payload snapshotsPayload
			if err := apiGet(cmd.Context(), "/api/snapshots", &payload); err != nil {
				return err
			}

			if options.sessions {
				return renderSnapshotSessions(os.Stdout, payload.Sessions, options.outputFormat)
			}
			return renderSnapshots(os.Stdout, payload.Snapshots, options.outputFormat)
		},
	}

	cmd.PersistentFlags().BoolVar(&options.sessions, "sessions", options.sessions, "Group snapshots into before/after capture sessions")
	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderSnapshots(w io.Writer, snapshots []protocol.SnapshotInfo, format string) error {
	if format == jsonOutput {
		return printJSON(w, snapshots)
	}

	rows := make([]table.Row, 0, len(snapshots))
	for _, snap := range snapshots {
		chunks := "-"
		if snap.TotalChunks > 0 {
			chunks = fmt.Sprintf("%d/%d", snap.ReceivedChunks, snap.TotalChunks)
		}
		rows = append(rows, table.Row{
			snap.ID,
			snap.ServiceName,
			snap.Phase,
			snap.Status,
			humanize.Bytes(uint64(snap.Size)),
			chunks,
			humanize.Time(millisToTime(snap.Timestamp)),
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "ID", Flexible: true, LeftAlign: true},
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "PHASE", Width: 6, LeftAlign: true},
		{Header: "STATUS", Width: 9, LeftAlign: true},
		{Header: "SIZE", Width: 9},
		{Header: "CHUNKS", Width: 7},
		{Header: "AGE", Flexible: true, LeftAlign: true},
	}, rows)
	tbl.EmptyMessage = "No snapshots captured."
	tbl.Render(w)
	return nil
}

func renderSnapshotSessions(w io.Writer, sessions []snapshotSession, format string) error {
	if format == jsonOutput {
		return printJSON(w, sessions)
	}

	rows := make([]table.Row, 0, len(sessions))
	for _, sess := range sessions {
		state := "incomplete"
		if sess.Complete {
			state = "complete"
		}
		rows = append(rows, table.Row{
			sess.SessionID,
			sess.ServiceName,
			fmt.Sprintf("%d", len(sess.Snapshots)),
			state,
		})
	}

	tbl := table.NewTable([]table.Column{
		{Header: "SESSION", Flexible: true, LeftAlign: true},
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "SNAPSHOTS", Width: 9},
		{Header: "STATE", Width: 10, LeftAlign: true},
	}, rows)
	tbl.Sort = []int{0}
	tbl.EmptyMessage = "No snapshot sessions found."
	tbl.Render(w)
	return nil
}
