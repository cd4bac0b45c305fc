package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clientspulse "goa.design/ticketflow/features/stream/pulse/clients/pulse"
	"goa.design/ticketflow/runtime/session"
	"goa.design/ticketflow/runtime/stream"
)

type (
	fakeClient struct {
		mu      sync.Mutex
		opened  []string
		streams map[string]*fakeStream
		openErr error
		closed  bool
	}

	fakeStream struct {
		mu      sync.Mutex
		entries []entry
		addErr  error
	}

	entry struct {
		event   string
		payload []byte
	}
)

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened = append(c.opened, name)
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return nil
}

func (c *fakeClient) stream(name string) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[name]
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	s.entries = append(s.entries, entry{event: event, payload: payload})
	return "1-0", nil
}

func TestSendPublishesEvent(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	id := session.Generate()
	ev := stream.Event{
		Type:      stream.EventSessionStatus,
		SessionID: id,
		Status:    session.StatusExecuting,
		Route:     "billing",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, sink.Send(context.Background(), ev))

	str := cli.stream("session/" + string(id))
	require.NotNil(t, str)
	require.Len(t, str.entries, 1)
	require.Equal(t, "session_status", str.entries[0].event)

	var got stream.Event
	require.NoError(t, json.Unmarshal(str.entries[0].payload, &got))
	require.Equal(t, id, got.SessionID)
	require.Equal(t, "billing", got.Route)
	require.Equal(t, session.StatusExecuting, got.Status)
}

func TestSendFansIn(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli, FanIn: "sessions"})
	require.NoError(t, err)

	for range 2 {
		ev := stream.Event{Type: stream.EventSessionCreated, SessionID: session.Generate(), Status: session.StatusCreated}
		require.NoError(t, sink.Send(context.Background(), ev))
	}
	require.Len(t, cli.stream("sessions").entries, 2)
}

func TestSendReusesHandleUntilTerminal(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	ctx := context.Background()
	id := session.Generate()

	for _, st := range []session.Status{session.StatusCreated, session.StatusClassifying, session.StatusExecuting, session.StatusCompleted} {
		require.NoError(t, sink.Send(ctx, stream.Event{Type: stream.TypeFor(st), SessionID: id, Status: st}))
	}
	require.Len(t, cli.opened, 1)
	require.Len(t, cli.stream("session/"+string(id)).entries, 4)

	sink.mu.Lock()
	require.Empty(t, sink.handles)
	sink.mu.Unlock()
}

func TestSendRequiresSessionID(t *testing.T) {
	sink, err := NewSink(Options{Client: newFakeClient()})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.Event{Type: stream.EventSessionCreated})
	require.EqualError(t, err, "stream event missing session id")
}

func TestSendPropagatesErrors(t *testing.T) {
	cli := newFakeClient()
	cli.openErr = errors.New("redis down")
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	ev := stream.Event{Type: stream.EventSessionCreated, SessionID: session.Generate()}
	require.EqualError(t, sink.Send(context.Background(), ev), "redis down")

	cli.openErr = nil
	cli.streams["session/"+string(ev.SessionID)] = &fakeStream{addErr: errors.New("add failed")}
	require.EqualError(t, sink.Send(context.Background(), ev), "add failed")
}

func TestCustomStreamID(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{
		Client:   cli,
		StreamID: func(stream.Event) (string, error) { return "all", nil },
		FanIn:    "all",
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), stream.Event{Type: stream.EventSessionCreated}))
	require.Len(t, cli.stream("all").entries, 1)
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.EqualError(t, err, "pulse client is required")
}

func TestCloseClosesClient(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, cli.closed)
}
