package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"goa.design/ticketflow/runtime/orchestrator"
	"goa.design/ticketflow/runtime/session"
)

type (
	// server exposes the orchestrator over HTTP.
	server struct {
		orch *orchestrator.Orchestrator
		mux  goahttp.Muxer
	}

	submitRequest struct {
		Ticket string `json:"ticket"`
	}

	submitResponse struct {
		ID        session.ID     `json:"id"`
		Status    session.Status `json:"status"`
		CreatedAt time.Time      `json:"created_at"`
	}

	sessionView struct {
		ID          session.ID       `json:"id"`
		Status      session.Status   `json:"status"`
		Route       string           `json:"route,omitempty"`
		Summary     string           `json:"summary,omitempty"`
		Error       string           `json:"error,omitempty"`
		Outcome     *session.Outcome `json:"outcome,omitempty"`
		Partial     *session.Outcome `json:"partial,omitempty"`
		CreatedAt   time.Time        `json:"created_at"`
		CompletedAt *time.Time       `json:"completed_at,omitempty"`
		Source      string           `json:"source"`
	}

	errorBody struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
)

// newMux mounts the session API and health check on a goa muxer.
func newMux(orch *orchestrator.Orchestrator, chk health.Checker, dbg bool) goahttp.Muxer {
	mux := goahttp.NewMuxer()
	s := &server{orch: orch, mux: mux}
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	mux.Handle(http.MethodPost, "/sessions", s.submit)
	mux.Handle(http.MethodGet, "/sessions", s.list)
	mux.Handle(http.MethodGet, "/sessions/{id}", s.status)
	mux.Handle(http.MethodGet, "/sessions/{id}/result", s.result)
	mux.Handle(http.MethodGet, "/healthz", health.Handler(chk))
	return mux
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	sub, err := s.orch.Submit(r.Context(), body.Ticket)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyTicket):
		writeError(r.Context(), w, http.StatusBadRequest, "empty_ticket", err)
		return
	case errors.Is(err, orchestrator.ErrClosed):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "closed", err)
		return
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, "submit_failed", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, submitResponse{
		ID:        sub.ID,
		Status:    sub.Status,
		CreatedAt: sub.CreatedAt,
	})
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	views, err := s.orch.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "list_failed", err)
		return
	}
	out := make([]sessionView, len(views))
	for i, v := range views {
		out[i] = toSessionView(v)
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	v, err := s.orch.Status(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "status_failed", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, toSessionView(v))
}

func (s *server) result(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	out, err := s.orch.Result(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, orchestrator.ErrInProgress):
		writeError(r.Context(), w, http.StatusConflict, "in_progress", err)
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, "result_failed", err)
	default:
		writeJSON(r.Context(), w, http.StatusOK, out)
	}
}

func (s *server) sessionID(w http.ResponseWriter, r *http.Request) (session.ID, bool) {
	id, err := session.Parse(s.mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_id", err)
		return "", false
	}
	return id, true
}

func toSessionView(v orchestrator.View) sessionView {
	sv := sessionView{
		ID:        v.ID,
		Status:    v.Status,
		Route:     v.Route,
		Summary:   v.Summary,
		Error:     v.Error,
		Outcome:   v.Outcome,
		Partial:   v.Partial,
		CreatedAt: v.CreatedAt,
		Source:    string(v.Source),
	}
	if sv.Summary == "" && v.Outcome != nil {
		sv.Summary = v.Outcome.Summary
	}
	if !v.CompletedAt.IsZero() {
		t := v.CompletedAt
		sv.CompletedAt = &t
	}
	return sv
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		log.Errorf(ctx, err, "encode response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, name string, err error) {
	if status >= http.StatusInternalServerError {
		log.Errorf(ctx, err, "request failed")
	}
	writeJSON(ctx, w, status, errorBody{Name: name, Message: err.Error()})
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, wg *sync.WaitGroup, errc chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", srv.Addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
