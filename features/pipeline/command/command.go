// Package command runs an external tool as a ticket pipeline. The ticket text
// is written to the process stdin; exit status 0 means success.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/session"
)

type (
	// Options configures a command pipeline.
	Options struct {
		// Path is the executable to run. Required.
		Path string
		// Args are passed to the executable.
		Args []string
		// Dir is the working directory. Empty uses the current directory.
		Dir string
		// Env is appended to the current environment.
		Env []string
		// WaitDelay bounds how long Execute waits for output after the
		// context is done and the process is killed. Defaults to 1s.
		WaitDelay time.Duration
	}

	// Pipeline executes a command once per ticket.
	Pipeline struct {
		opts Options
	}

	// detail is the Outcome.Detail payload.
	detail struct {
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout,omitempty"`
		Stderr   string `json:"stderr,omitempty"`
	}
)

var _ pipeline.Pipeline = (*Pipeline)(nil)

// New returns a pipeline running opts.Path.
func New(opts Options) (*Pipeline, error) {
	if opts.Path == "" {
		return nil, errors.New("command path is required")
	}
	return &Pipeline{opts: opts}, nil
}

// Execute implements pipeline.Pipeline. A non-zero exit yields a failed
// outcome together with an error. The session ID and route are exported to
// the process as TICKETFLOW_SESSION_ID and TICKETFLOW_ROUTE.
func (p *Pipeline) Execute(ctx context.Context, tc pipeline.TicketContext) (*session.Outcome, error) {
	cmd := exec.CommandContext(ctx, p.opts.Path, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	cmd.WaitDelay = p.opts.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}
	cmd.Env = append(os.Environ(), p.opts.Env...)
	cmd.Env = append(cmd.Env,
		"TICKETFLOW_SESSION_ID="+string(tc.SessionID),
		"TICKETFLOW_ROUTE="+string(tc.Route),
	)
	cmd.Stdin = strings.NewReader(tc.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", p.opts.Path, runErr)
	}

	d := detail{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr != nil {
		d.ExitCode = exitErr.ExitCode()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := &session.Outcome{
		Success: runErr == nil,
		Summary: strings.TrimSpace(d.Stdout),
		Detail:  raw,
	}
	if runErr != nil {
		if msg := strings.TrimSpace(d.Stderr); msg != "" {
			return out, fmt.Errorf("%s exited with status %d: %s", p.opts.Path, d.ExitCode, msg)
		}
		return out, fmt.Errorf("%s exited with status %d", p.opts.Path, d.ExitCode)
	}
	return out, nil
}
