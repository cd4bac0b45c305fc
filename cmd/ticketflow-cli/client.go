package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type (
	// apiClient calls the ticketflow HTTP API.
	apiClient struct {
		base string
		http *http.Client
	}

	outcome struct {
		Success bool            `json:"success"`
		Summary string          `json:"summary"`
		Detail  json.RawMessage `json:"detail,omitempty"`
	}

	sessionView struct {
		ID          string     `json:"id"`
		Status      string     `json:"status"`
		Route       string     `json:"route,omitempty"`
		Summary     string     `json:"summary,omitempty"`
		Error       string     `json:"error,omitempty"`
		Outcome     *outcome   `json:"outcome,omitempty"`
		Partial     *outcome   `json:"partial,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		Source      string     `json:"source"`
	}

	submission struct {
		ID        string    `json:"id"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}

	// apiError is a non-2xx response.
	apiError struct {
		StatusCode int
		Name       string `json:"name"`
		Message    string `json:"message"`
	}
)

// errInProgress is returned by result while the session is running.
var errInProgress = errors.New("session still in progress")

func newAPIClient(base string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiClient{base: strings.TrimRight(base, "/"), http: hc}
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func (c *apiClient) submit(ctx context.Context, ticket string) (submission, error) {
	var out submission
	body, err := json.Marshal(map[string]string{"ticket": ticket})
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/sessions", body, &out)
	return out, err
}

func (c *apiClient) status(ctx context.Context, id string) (sessionView, error) {
	var out sessionView
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *apiClient) result(ctx context.Context, id string) (outcome, error) {
	var out outcome
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/result", nil, &out)
	var ae *apiError
	if errors.As(err, &ae) && ae.StatusCode == http.StatusConflict {
		return out, errInProgress
	}
	return out, err
}

func (c *apiClient) list(ctx context.Context) ([]sessionView, error) {
	var out []sessionView
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		ae := &apiError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(ae)
		return ae
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
