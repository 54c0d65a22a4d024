package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

type dashboardOptions struct {
	dashboardURL string
	showURL      bool
}

func newCmdDashboard() *cobra.Command {
	options := &dashboardOptions{}

	cmd := &cobra.Command{
		Use:   "dashboard [flags]",
		Short: "Open the memory dashboard in a web browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var health healthPayload
			if err := apiGet(cmd.Context(), "/health", &health); err != nil {
				fmt.Fprintf(os.Stderr, "Failed while checking hub availability: %s\n", err)
				os.Exit(1)
			}

			url := options.dashboardURL
			if url == "" {
				url = fmt.Sprintf("http://%s/", apiAddr)
			}

			fmt.Printf("Memory dashboard available at:\n%s\n", url)

			if !options.showURL {
				fmt.Println("Opening the default browser")

				if err := browser.OpenURL(url); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to open URL %s in the default browser: %s", url, err)
					os.Exit(1)
				}
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&options.dashboardURL, "dashboard-url", options.dashboardURL, "URL of the dashboard frontend, when served separately from the hub")
	cmd.PersistentFlags().BoolVar(&options.showURL, "url", options.showURL, "Display the dashboard URL instead of opening it in the default browser")

	return cmd
}
