package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/classifier"
	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/session"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func textMessage(text string, stop sdk.StopReason) *sdk.Message {
	return &sdk.Message{
		Model:      sdk.Model("claude-test"),
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: stop,
		Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 34},
	}
}

func TestAnalyzePromptListsRoutes(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("  reports \n", sdk.StopReasonEndTurn)}
	a, err := NewAnalyzer(stub, Options{Model: "claude-test"})
	require.NoError(t, err)

	got, err := a.Analyze(context.Background(), "monthly numbers look off", []pipeline.Route{"billing", "reports"})
	require.NoError(t, err)
	require.Equal(t, "reports", got)

	require.Equal(t, sdk.Model("claude-test"), stub.lastParams.Model)
	require.Equal(t, int64(defaultMaxTokens), stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.System, 1)
	require.Equal(t, analyzerSystem, stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
	block := stub.lastParams.Messages[0].Content[0].OfText
	require.NotNil(t, block)
	require.Contains(t, block.Text, "Routes: billing, reports")
	require.Contains(t, block.Text, "monthly numbers look off")
}

func TestAnalyzerDrivesClassifier(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("reports", sdk.StopReasonEndTurn)}
	a, err := NewAnalyzer(stub, Options{Model: "claude-test"})
	require.NoError(t, err)
	c, err := classifier.New([]classifier.RouteSpec{
		{Route: "billing", Keywords: []string{"invoice"}},
		{Route: "reports", Keywords: []string{"report"}},
	}, classifier.WithAnalyzer(a))
	require.NoError(t, err)

	require.Equal(t, pipeline.Route("reports"), c.Classify(context.Background(), "something is wrong"))

	stub.err = errors.New("overloaded")
	require.Equal(t, pipeline.Route("billing"), c.Classify(context.Background(), "invoice is wrong"))
}

func TestAnalyzeErrors(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("boom")}
	a, err := NewAnalyzer(stub, Options{Model: "claude-test"})
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "x", nil)
	require.ErrorContains(t, err, "boom")

	stub.err = nil
	stub.resp = &sdk.Message{}
	_, err = a.Analyze(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestPipelineExecute(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("Add an index on orders.customer_id.", sdk.StopReasonEndTurn)}
	p, err := NewPipeline(stub, Options{Model: "claude-test", MaxTokens: 256, System: "be brief"})
	require.NoError(t, err)

	out, err := p.Execute(context.Background(), pipeline.TicketContext{
		SessionID: session.Generate(),
		Text:      "query on orders is slow",
		Route:     "db_reasoning",
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "Add an index on orders.customer_id.", out.Summary)

	var d detail
	require.NoError(t, json.Unmarshal(out.Detail, &d))
	require.Equal(t, "claude-test", d.Model)
	require.Equal(t, int64(12), d.InputTokens)
	require.Equal(t, int64(34), d.OutputTokens)
	require.Equal(t, int64(256), stub.lastParams.MaxTokens)
	require.Equal(t, "be brief", stub.lastParams.System[0].Text)
}

func TestPipelineTruncatedReplyFails(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("Partial answ", sdk.StopReasonMaxTokens)}
	p, err := NewPipeline(stub, Options{Model: "claude-test"})
	require.NoError(t, err)
	out, err := p.Execute(context.Background(), pipeline.TicketContext{Text: "x"})
	require.NoError(t, err)
	require.False(t, out.Success)
}

func TestNewValidation(t *testing.T) {
	_, err := NewAnalyzer(nil, Options{Model: "m"})
	require.EqualError(t, err, "anthropic client is required")
	_, err = NewPipeline(&stubMessagesClient{}, Options{})
	require.EqualError(t, err, "model identifier is required")
	_, err = NewMessagesClient("")
	require.EqualError(t, err, "api key is required")
}
