package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/spf13/cobra"
)

// Comparison session states as the hub reports them.
const (
	sessionWaiting   = "waiting"
	sessionCompleted = "completed"
	sessionFailed    = "failed"
)

type compareOptions struct {
	containerID      string
	beforeSnapshotID string
	afterSnapshotID  string
	outputFormat     string
}

type (
	// compareRequestBody is the payload for the hub's compare endpoint.
	compareRequestBody struct {
		ServiceName      string `json:"serviceName"`
		ContainerID      string `json:"containerId,omitempty"`
		BeforeSnapshotID string `json:"beforeSnapshotId,omitempty"`
		AfterSnapshotID  string `json:"afterSnapshotId,omitempty"`
	}

	// comparePayload mirrors the hub's comparison response.
	comparePayload struct {
		SessionID        string                     `json:"sessionId"`
		Status           string                     `json:"status"`
		Analysis         *protocol.AnalysisReport   `json:"analysis"`
		Error            string                     `json:"error,omitempty"`
		MissingSnapshots *protocol.MissingSnapshots `json:"missingSnapshots,omitempty"`
	}
)

func newCmdCompare() *cobra.Command {
	options := &compareOptions{outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "compare [flags] SERVICE",
		Short: "Run a before/after leak analysis for a service",
		Long: `Run a before/after leak analysis for a service.

The hub pairs the service's most recent before and after snapshots unless
--before and --after name specific snapshot IDs. If either half of the pair
has not arrived yet, the comparison stays queued until it has.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			body := compareRequestBody{
				ServiceName:      args[0],
				ContainerID:      options.containerID,
				BeforeSnapshotID: options.beforeSnapshotID,
				AfterSnapshotID:  options.afterSnapshotID,
			}

			var payload comparePayload
			if err := apiPost(cmd.Context(), "/api/snapshots/compare", body, &payload); err != nil {
				return err
			}

			return renderComparison(os.Stdout, payload, options.outputFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&options.containerID, "container", options.containerID, "Container the snapshots were captured from")
	cmd.PersistentFlags().StringVar(&options.beforeSnapshotID, "before", options.beforeSnapshotID, "Snapshot ID to use as the before half")
	cmd.PersistentFlags().StringVar(&options.afterSnapshotID, "after", options.afterSnapshotID, "Snapshot ID to use as the after half")
	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func renderComparison(w io.Writer, payload comparePayload, format string) error {
	if format == jsonOutput {
		return printJSON(w, payload)
	}

	switch payload.Status {
	case sessionCompleted:
		fmt.Fprintf(w, "Comparison %s completed.\n", payload.SessionID)
		if payload.Analysis != nil {
			summary := payload.Analysis.Summary
			fmt.Fprintf(w, "\n")
			fmt.Fprintf(w, "Total growth:      %.1f MB\n", summary.TotalGrowthMB)
			fmt.Fprintf(w, "Leaks:             %d (%.1f MB)\n", summary.TotalLeaks, summary.TotalLeaksMB)
			fmt.Fprintf(w, "Suspicious growth: %t\n", summary.SuspiciousGrowth)
			fmt.Fprintf(w, "Confidence:        %.0f%%\n", summary.Confidence*100)
			if len(payload.Analysis.Recommendations) > 0 {
				fmt.Fprintf(w, "\nRecommendations:\n")
				for _, rec := range payload.Analysis.Recommendations {
					fmt.Fprintf(w, "  * %s\n", rec)
				}
			}
		}
		return nil
	case sessionWaiting:
		fmt.Fprintf(w, "Comparison %s is waiting for snapshots.\n", payload.SessionID)
		if m := payload.MissingSnapshots; m != nil {
			if m.Before {
				fmt.Fprintln(w, "  * missing before snapshot")
			}
			if m.After {
				fmt.Fprintln(w, "  * missing after snapshot")
			}
		}
		fmt.Fprintln(w, "It will run as soon as both halves arrive.")
		return nil
	case sessionFailed:
		return fmt.Errorf("comparison %s failed: %s", payload.SessionID, payload.Error)
	default:
		fmt.Fprintf(w, "Comparison %s is %s.\n", payload.SessionID, payload.Status)
		return nil
	}
}
