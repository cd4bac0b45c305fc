package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testID = "01928f3e-7b7a-7c3d-9e2f-0123456789ab"

// fakeAPI serves canned responses mirroring the ticketflow HTTP API.
func fakeAPI(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var (
		polls     atomic.Int32
		submitted atomic.Value
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		submitted.Store(body["ticket"])
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(submission{ID: testID, Status: "created", CreatedAt: time.Now()})
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]sessionView{
			{ID: testID, Status: "completed", Route: "db_reasoning", Summary: "index added"},
			{ID: "other", Status: "failed", Route: "billing", Error: "pipeline exploded"},
		})
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != testID {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"name":"not_found","message":"session not found"}`)
			return
		}
		status := "executing"
		if polls.Add(1) >= 2 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(sessionView{ID: testID, Status: status, Route: "db_reasoning", Summary: "index added"})
	})
	mux.HandleFunc("GET /sessions/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "running" {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"name":"in_progress","message":"session still in progress"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"summary":"index added","detail":{"rows":3}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls, &submitted
}

func runCLI(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitPrintsID(t *testing.T) {
	srv, _, submitted := fakeAPI(t)
	out, err := runCLI(t, srv, "", "submit", "the", "report", "is", "slow")
	require.NoError(t, err)
	require.Equal(t, testID+"\n", out)
	require.Equal(t, "the report is slow", submitted.Load())
}

func TestSubmitFromStdin(t *testing.T) {
	srv, _, submitted := fakeAPI(t)
	_, err := runCLI(t, srv, "kill query 42\n", "submit", "-")
	require.NoError(t, err)
	require.Equal(t, "kill query 42\n", submitted.Load())
}

func TestSubmitWait(t *testing.T) {
	srv, polls, _ := fakeAPI(t)
	out, err := runCLI(t, srv, "", "submit", "--wait", "--poll", "10ms", "slow report")
	require.NoError(t, err)
	require.Contains(t, out, "status:  completed")
	require.Contains(t, out, "summary: index added")
	require.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestStatusNotFound(t *testing.T) {
	srv, _, _ := fakeAPI(t)
	_, err := runCLI(t, srv, "", "status", "missing")
	require.EqualError(t, err, "status: session not found (404)")
}

func TestResult(t *testing.T) {
	srv, _, _ := fakeAPI(t)
	out, err := runCLI(t, srv, "", "result", testID)
	require.NoError(t, err)
	require.Equal(t, "index added\n{\"rows\":3}\n", out)

	_, err = runCLI(t, srv, "", "result", "running")
	require.EqualError(t, err, "result: session running is still running")
}

func TestList(t *testing.T) {
	srv, _, _ := fakeAPI(t)
	out, err := runCLI(t, srv, "", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "index added")
	require.Contains(t, lines[2], "pipeline exploded")
}
