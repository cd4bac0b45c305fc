package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:           "ticketflow-cli",
		Short:         "Client for the ticketflow service",
		Long:          "ticketflow-cli submits tickets to a ticketflow service and inspects\nthe sessions processing them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := os.Getenv("TICKETFLOW_SERVER")
	if def == "" {
		def = defaultServer
	}
	cmd.PersistentFlags().StringVar(&server, "server", def, "ticketflow service base URL")

	clientFn := func() *apiClient { return newAPIClient(server, nil) }
	cmd.AddCommand(
		newSubmitCmd(clientFn),
		newStatusCmd(clientFn),
		newResultCmd(clientFn),
		newListCmd(clientFn),
	)
	return cmd
}
