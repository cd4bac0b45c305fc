// Command ticketflow-cli talks to a running ticketflow service.
//
//	ticketflow-cli submit "the nightly report query is slow"
//	ticketflow-cli status <session-id>
//	ticketflow-cli result <session-id>
//	ticketflow-cli list
//
// The service address comes from --server or TICKETFLOW_SERVER.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
