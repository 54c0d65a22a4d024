package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/heaplane/heaplane/pkg/version"
	"github.com/spf13/cobra"
)

const defaultVersionString = "unavailable"

type versionOptions struct {
	shortVersion      bool
	onlyClientVersion bool
}

func newVersionOptions() *versionOptions {
	return &versionOptions{
		shortVersion:      false,
		onlyClientVersion: false,
	}
}

func newCmdVersion() *cobra.Command {
	options := newVersionOptions()

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the client and hub version information",
		Long:  "Print the client and hub version information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			configureAndRunVersion(cmd.Context(), options, os.Stdout, apiAddr)
		},
	}

	cmd.PersistentFlags().BoolVar(&options.shortVersion, "short", options.shortVersion, "Print the version number(s) only, with no additional output")
	cmd.PersistentFlags().BoolVar(&options.onlyClientVersion, "client", options.onlyClientVersion, "Print the client version only")

	return cmd
}

func configureAndRunVersion(ctx context.Context, options *versionOptions, wout io.Writer, addr string) {
	clientVersion := version.Version
	if options.shortVersion {
		fmt.Fprintln(wout, clientVersion)
	} else {
		fmt.Fprintf(wout, "Client version: %s\n", clientVersion)
	}

	if !options.onlyClientVersion {
		hubVersion, err := version.GetServerVersion(ctx, addr)
		if err != nil {
			hubVersion = defaultVersionString
		}
		if options.shortVersion {
			fmt.Fprintln(wout, hubVersion)
		} else {
			fmt.Fprintf(wout, "Hub version: %s\n", hubVersion)
		}
	}
}
