// Package anthropic backs ticket classification and resolution with the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
//
// Analyzer plugs into the classifier as a front stage that asks Claude which
// route label fits a ticket. Pipeline drafts a resolution for tickets routed
// to it.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/session"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used here. It is
	// satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures Analyzer and Pipeline.
	Options struct {
		// Model is the Claude model identifier. Required.
		Model string
		// MaxTokens caps the completion length. Defaults to 1024.
		MaxTokens int
		// System overrides the system prompt.
		System string
	}

	// Analyzer asks Claude to name the route that fits a ticket.
	Analyzer struct {
		msg    MessagesClient
		model  string
		maxTok int64
		system string
	}

	// Pipeline drafts a ticket resolution with Claude.
	Pipeline struct {
		msg    MessagesClient
		model  string
		maxTok int64
		system string
	}

	// detail is the Outcome.Detail payload produced by Pipeline.
	detail struct {
		Model        string `json:"model"`
		StopReason   string `json:"stop_reason,omitempty"`
		InputTokens  int64  `json:"input_tokens"`
		OutputTokens int64  `json:"output_tokens"`
	}
)

const (
	defaultMaxTokens = 1024

	analyzerSystem = "You route support tickets. Reply with exactly one route " +
		"label from the list you are given, or default_handler when none applies."

	pipelineSystem = "You are a database support engineer. Diagnose the ticket " +
		"and propose a concise resolution."
)

var (
	_ pipeline.Pipeline = (*Pipeline)(nil)

	// ErrEmptyResponse is returned when Claude replies without text.
	ErrEmptyResponse = errors.New("anthropic: empty response")
)

// NewAnalyzer returns an Analyzer issuing requests through msg.
func NewAnalyzer(msg MessagesClient, opts Options) (*Analyzer, error) {
	if err := validate(msg, opts); err != nil {
		return nil, err
	}
	return &Analyzer{
		msg:    msg,
		model:  opts.Model,
		maxTok: maxTokens(opts.MaxTokens),
		system: systemPrompt(opts.System, analyzerSystem),
	}, nil
}

// NewPipeline returns a Pipeline issuing requests through msg.
func NewPipeline(msg MessagesClient, opts Options) (*Pipeline, error) {
	if err := validate(msg, opts); err != nil {
		return nil, err
	}
	return &Pipeline{
		msg:    msg,
		model:  opts.Model,
		maxTok: maxTokens(opts.MaxTokens),
		system: systemPrompt(opts.System, pipelineSystem),
	}, nil
}

// NewMessagesClient returns the SDK messages service authenticated with
// apiKey.
func NewMessagesClient(apiKey string) (MessagesClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages, nil
}

// Analyze returns Claude's verdict for text. The classifier scans the verdict
// for route labels, so the reply is returned verbatim.
func (a *Analyzer) Analyze(ctx context.Context, text string, routes []pipeline.Route) (string, error) {
	labels := make([]string, len(routes))
	for i, r := range routes {
		labels[i] = string(r)
	}
	prompt := fmt.Sprintf("Routes: %s\n\nTicket:\n%s", strings.Join(labels, ", "), text)
	msg, err := a.msg.New(ctx, params(a.model, a.maxTok, a.system, prompt))
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	return replyText(msg)
}

// Execute implements pipeline.Pipeline.
func (p *Pipeline) Execute(ctx context.Context, tc pipeline.TicketContext) (*session.Outcome, error) {
	msg, err := p.msg.New(ctx, params(p.model, p.maxTok, p.system, tc.Text))
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	text, err := replyText(msg)
	if err != nil {
		return nil, err
	}
	d, err := json.Marshal(detail{
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return &session.Outcome{
		Success: msg.StopReason != sdk.StopReasonMaxTokens,
		Summary: text,
		Detail:  d,
	}, nil
}

func params(model string, maxTok int64, system, text string) sdk.MessageNewParams {
	return sdk.MessageNewParams{
		MaxTokens: maxTok,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(text))},
		Model:     sdk.Model(model),
		System:    []sdk.TextBlockParam{{Text: system}},
	}
}

func replyText(msg *sdk.Message) (string, error) {
	if msg == nil {
		return "", errors.New("anthropic: response message is nil")
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func validate(msg MessagesClient, opts Options) error {
	if msg == nil {
		return errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return errors.New("model identifier is required")
	}
	return nil
}

func maxTokens(n int) int64 {
	if n <= 0 {
		return defaultMaxTokens
	}
	return int64(n)
}

func systemPrompt(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
