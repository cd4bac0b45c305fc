package command

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/session"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecuteSuccess(t *testing.T) {
	sh := requireShell(t)
	p, err := New(Options{Path: sh, Args: []string{"-c", `read line; echo "route=$TICKETFLOW_ROUTE ticket=$line"`}})
	require.NoError(t, err)

	out, err := p.Execute(context.Background(), pipeline.TicketContext{
		SessionID: session.Generate(),
		Text:      "disk full\n",
		Route:     "db_reasoning",
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "route=db_reasoning ticket=disk full", out.Summary)

	var d detail
	require.NoError(t, json.Unmarshal(out.Detail, &d))
	require.Equal(t, 0, d.ExitCode)
}

func TestExecuteNonZeroExit(t *testing.T) {
	sh := requireShell(t)
	p, err := New(Options{Path: sh, Args: []string{"-c", "echo partial; echo broken >&2; exit 3"}})
	require.NoError(t, err)

	out, err := p.Execute(context.Background(), pipeline.TicketContext{Text: "x"})
	require.EqualError(t, err, sh+" exited with status 3: broken")
	require.NotNil(t, out)
	require.False(t, out.Success)
	require.Equal(t, "partial", out.Summary)

	var d detail
	require.NoError(t, json.Unmarshal(out.Detail, &d))
	require.Equal(t, 3, d.ExitCode)
	require.Equal(t, "broken\n", d.Stderr)
}

func TestExecuteMissingBinary(t *testing.T) {
	p, err := New(Options{Path: "/nonexistent/ticket-tool"})
	require.NoError(t, err)
	out, err := p.Execute(context.Background(), pipeline.TicketContext{Text: "x"})
	require.Error(t, err)
	require.Nil(t, out)
}

func TestExecuteHonorsContext(t *testing.T) {
	sh := requireShell(t)
	p, err := New(Options{Path: sh, Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := p.Execute(ctx, pipeline.TicketContext{Text: "x"})
	require.Error(t, err)
	require.Less(t, time.Since(start), 4*time.Second)
	if out != nil {
		require.False(t, out.Success)
	}
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "command path is required")
}
