package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/heaplane/heaplane/pkg/version"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	okStatus   = color.New(color.FgGreen, color.Bold).SprintFunc()("√")  // √
	warnStatus = color.New(color.FgYellow, color.Bold).SprintFunc()("‼") // ‼
	failStatus = color.New(color.FgRed, color.Bold).SprintFunc()("×")    // ×
)

const (
	hubAPICategory       = "hub-api"
	hubDashboardCategory = "hub-dashboard"
	hubVersionCategory   = "hub-version"

	checkRetryInterval = time.Second
)

type checkOptions struct {
	wait         time.Duration
	outputFormat string
}

// checkResult is the outcome of a single probe against the hub.
type checkResult struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
	Warning     bool   `json:"warning,omitempty"`
}

// hubCheck describes one probe. Retryable checks are repeated until they
// pass or the wait deadline expires; the rest fail on the first attempt.
type hubCheck struct {
	category    string
	description string
	retryable   bool
	warning     bool
	run         func(ctx context.Context) error
}

type checkOutput struct {
	Success bool          `json:"success"`
	Results []checkResult `json:"results"`
}

func newCmdCheck() *cobra.Command {
	options := &checkOptions{wait: 30 * time.Second, outputFormat: tableOutput}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the hub is up and serving",
		Long: `Check that the hub is up and serving.

Probes the hub's REST surface and its dashboard subscription endpoint and
prints the result of each check. Exits non-zero if any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(options.outputFormat); err != nil {
				return err
			}

			if !runChecks(cmd.Context(), os.Stdout, options) {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.PersistentFlags().DurationVar(&options.wait, "wait", options.wait, "Maximum time to wait for the hub to become reachable")
	cmd.PersistentFlags().StringVarP(&options.outputFormat, "output", "o", options.outputFormat, "Output format; one of: \"table\", \"json\"")

	return cmd
}

func hubChecks() []hubCheck {
	var health healthPayload

	return []hubCheck{
		{
			category:    hubAPICategory,
			description: "hub API is reachable",
			retryable:   true,
			run: func(ctx context.Context) error {
				return apiGet(ctx, "/health", &health)
			},
		},
		{
			category:    hubAPICategory,
			description: "hub reports itself healthy",
			run: func(ctx context.Context) error {
				if health.Status != "ok" {
					return fmt.Errorf("hub health status is %q", health.Status)
				}
				return nil
			},
		},
		{
			category:    hubAPICategory,
			description: "hub can list services",
			run: func(ctx context.Context) error {
				var services []protocol.ServiceInfo
				return apiGet(ctx, "/api/services", &services)
			},
		},
		{
			category:    hubDashboardCategory,
			description: "dashboard endpoint accepts subscribers",
			run:         checkDashboardEndpoint,
		},
		{
			category:    hubVersionCategory,
			description: "cli and hub versions match",
			warning:     true,
			run: func(ctx context.Context) error {
				return version.CheckServerVersion(ctx, apiAddr, version.Version)
			},
		},
	}
}

// checkDashboardEndpoint opens a subscription socket and verifies the first
// frame is the initial event, the same contract dashboards rely on.
func checkDashboardEndpoint(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL("/dashboard"), nil)
	if err != nil {
		return fmt.Errorf("cannot subscribe at %s: %s", wsURL("/dashboard"), err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(apiTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("no frame received after subscribing: %s", err)
	}

	event, err := protocol.DecodeEvent(frame)
	if err != nil {
		return fmt.Errorf("unreadable first frame: %s", err)
	}
	if event == nil || event.EventType() != protocol.EventInitial {
		return fmt.Errorf("first frame was not an initial event")
	}
	return nil
}

// runChecks executes every check in order and renders results as they
// arrive. It returns true when no check failed hard.
func runChecks(ctx context.Context, wout io.Writer, options *checkOptions) bool {
	deadline := time.Now().Add(options.wait)
	success := true
	results := []checkResult{}

	spin := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	spin.Writer = wout

	lastCategory := ""
	for _, check := range hubChecks() {
		err := check.run(ctx)
		for err != nil && check.retryable && time.Now().Before(deadline) {
			if isatty.IsTerminal(os.Stdout.Fd()) && options.outputFormat == tableOutput {
				spin.Suffix = fmt.Sprintf(" %s", err)
				spin.Color("bold") // this calls spin.Restart()
			}
			time.Sleep(checkRetryInterval)
			err = check.run(ctx)
		}
		spin.Stop()

		result := checkResult{
			Category:    check.category,
			Description: check.description,
			Err:         err,
			Warning:     check.warning,
		}
		if err != nil {
			result.Error = err.Error()
			if !check.warning {
				success = false
			}
		}
		results = append(results, result)

		if options.outputFormat == tableOutput {
			if check.category != lastCategory {
				if lastCategory != "" {
					fmt.Fprintln(wout)
				}
				fmt.Fprintln(wout, check.category)
				fmt.Fprintln(wout, strings.Repeat("-", len(check.category)))
				lastCategory = check.category
			}
			printCheckResult(wout, result)
		}

		// Later checks depend on a reachable hub; stop probing a hub that
		// never answered.
		if err != nil && check.retryable {
			break
		}
	}

	if options.outputFormat == jsonOutput {
		out, _ := json.MarshalIndent(checkOutput{Success: success, Results: results}, "", "  ")
		fmt.Fprintf(wout, "%s\n", out)
		return success
	}

	fmt.Fprintln(wout)
	if success {
		fmt.Fprintf(wout, "Status check results are %s\n", okStatus)
	} else {
		fmt.Fprintf(wout, "Status check results are %s\n", failStatus)
	}
	return success
}

func printCheckResult(wout io.Writer, result checkResult) {
	status := okStatus
	if result.Err != nil {
		status = failStatus
		if result.Warning {
			status = warnStatus
		}
	}
	fmt.Fprintf(wout, "%s %s\n", status, result.Description)
	if result.Err != nil {
		fmt.Fprintf(wout, "    %s\n", result.Err)
	}
}
