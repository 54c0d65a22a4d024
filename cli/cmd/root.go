package cmd

import (
	"fmt"
	"regexp"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultAPIAddr = "localhost:4000"

var apiAddr string
var verbose bool

// This regex is not as strict as it could be, but is a quick and dirty
// sanity check against illegal characters.
var hostPort = regexp.MustCompile(`^[a-zA-Z0-9.-]+(:[0-9]+)?$`)

// NewRootCmd returns a new heaplane command
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "heaplane",
		Short: "heaplane inspects a heaplane memory hub",
		Long: `heaplane inspects the services, memory metrics, alerts and heap snapshots
tracked by a heaplane hub.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// enable / disable logging
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.PanicLevel)
			}

			if !hostPort.MatchString(apiAddr) {
				return fmt.Errorf("%s is not a valid hub address", apiAddr)
			}

			return nil
		},
	}

	root.PersistentFlags().StringVar(&apiAddr, "api-addr", defaultAPIAddr, "host:port of the hub")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Turn on debug logging")

	root.AddCommand(newCmdAlerts())
	root.AddCommand(newCmdCheck())
	root.AddCommand(newCmdCompare())
	root.AddCommand(newCmdComparisons())
	root.AddCommand(newCmdCompletion())
	root.AddCommand(newCmdDashboard())
	root.AddCommand(newCmdMetrics())
	root.AddCommand(newCmdServices())
	root.AddCommand(newCmdSnapshots())
	root.AddCommand(newCmdTop())
	root.AddCommand(newCmdVersion())

	return root
}
