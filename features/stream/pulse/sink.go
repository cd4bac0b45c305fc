// Package pulse exposes a stream.Sink that publishes session lifecycle events
// to goa.design/pulse streams. Every event goes to the session's own stream
// and, when configured, to a shared fan-in stream that observers can tail to
// follow all sessions.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"goa.design/ticketflow/features/stream/pulse/clients/pulse"
	"goa.design/ticketflow/runtime/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the per-session stream from an event. Defaults to
		// `session/<SessionID>`.
		StreamID func(stream.Event) (string, error)
		// FanIn names an additional stream receiving every event. Empty
		// disables fan-in.
		FanIn string
	}

	// Sink publishes session events into Pulse streams. It is safe for
	// concurrent use.
	Sink struct {
		client   pulse.Client
		streamID func(stream.Event) (string, error)
		fanIn    string

		mu      sync.Mutex
		handles map[string]pulse.Stream
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sid := opts.StreamID
	if sid == nil {
		sid = defaultStreamID
	}
	return &Sink{
		client:   opts.Client,
		streamID: sid,
		fanIn:    opts.FanIn,
		handles:  make(map[string]pulse.Stream),
	}, nil
}

// Send publishes event as a JSON entry named after the event type.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	targets := []string{name}
	if s.fanIn != "" && s.fanIn != name {
		targets = append(targets, s.fanIn)
	}
	for _, target := range targets {
		h, err := s.stream(target)
		if err != nil {
			return err
		}
		if _, err := h.Add(ctx, string(event.Type), payload); err != nil {
			return err
		}
	}
	if event.Status.Terminal() {
		// No further events follow a terminal one.
		s.mu.Lock()
		delete(s.handles, name)
		s.mu.Unlock()
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.handles = make(map[string]pulse.Stream)
	s.mu.Unlock()
	return s.client.Close(ctx)
}

func (s *Sink) stream(name string) (pulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[name]; ok {
		return h, nil
	}
	h, err := s.client.Stream(name)
	if err != nil {
		return nil, err
	}
	s.handles[name] = h
	return h, nil
}

func defaultStreamID(event stream.Event) (string, error) {
	if event.SessionID == "" {
		return "", errors.New("stream event missing session id")
	}
	return fmt.Sprintf("session/%s", event.SessionID), nil
}
