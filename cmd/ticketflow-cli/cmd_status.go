package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "status" subcommand.
func newStatusCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := client().status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			printSession(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

// newResultCmd creates the "result" subcommand.
func newResultCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "result <session-id>",
		Short: "Print the outcome of a finished session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().result(cmd.Context(), args[0])
			if errors.Is(err, errInProgress) {
				return fmt.Errorf("result: session %s is still running", args[0])
			}
			if err != nil {
				return fmt.Errorf("result: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Summary)
			if len(out.Detail) > 0 {
				fmt.Fprintln(w, string(out.Detail))
			}
			return nil
		},
	}
}

// newListCmd creates the "list" subcommand.
func newListCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := client().list(cmd.Context())
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tROUTE\tCREATED\tSUMMARY")
			for _, v := range views {
				summary := v.Summary
				if v.Status == "failed" {
					summary = v.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Status, v.Route, v.CreatedAt.Format(time.RFC3339), summary)
			}
			return tw.Flush()
		},
	}
}

func printSession(w io.Writer, v sessionView) {
	fmt.Fprintf(w, "id:      %s\n", v.ID)
	fmt.Fprintf(w, "status:  %s\n", v.Status)
	if v.Route != "" {
		fmt.Fprintf(w, "route:   %s\n", v.Route)
	}
	if v.Summary != "" {
		fmt.Fprintf(w, "summary: %s\n", v.Summary)
	}
	if v.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", v.Error)
	}
}
