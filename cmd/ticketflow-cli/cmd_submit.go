package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newSubmitCmd creates the "submit" subcommand.
func newSubmitCmd(client func() *apiClient) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
		poll    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <ticket text...|->",
		Short: "Submit a ticket",
		Long:  "Submit a ticket and print the new session ID.\nPass - to read the ticket from stdin. With --wait, block until the\nsession finishes and print its outcome.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("submit: read stdin: %w", err)
				}
				text = string(b)
			}
			c := client()
			ctx := cmd.Context()
			sub, err := c.submit(ctx, text)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sub.ID)
			if !wait {
				return nil
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				v, err := c.status(ctx, sub.ID)
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				if v.Status == "completed" || v.Status == "failed" {
					printSession(cmd.OutOrStdout(), v)
					if v.Status == "failed" {
						return errors.New("session failed")
					}
					return nil
				}
				select {
				case <-ctx.Done():
					return fmt.Errorf("submit: waiting for %s: %w", sub.ID, ctx.Err())
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the session to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time to wait")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "status polling interval")
	return cmd
}
