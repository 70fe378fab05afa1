// Package anthropic wraps the Anthropic Messages API for the single-turn
// completions the report generator makes: one system role, one prompt.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one system role plus one user prompt.
type Request struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheTTL puts a cache breakpoint on the system role. Empty disables it.
	CacheTTL    string
	Prompt      string
	Temperature *float64
}

// Response is the text answer of a completion.
type Response struct {
	Model      string
	StopReason string
	Text       string
	Usage      Usage
}

// ClientOption configures the SDK-backed client.
type ClientOption func(*[]option.RequestOption)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) ClientOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// WithMaxRetries sets the SDK's own retry budget.
func WithMaxRetries(n int) ClientOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithMaxRetries(n))
	}
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the official SDK.
func NewClient(apiKey string, opts ...ClientOption) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, eris.New("anthropic: empty prompt")
	}
	if !ValidCacheTTL(req.CacheTTL) {
		return nil, eris.Errorf("anthropic: unsupported cache ttl %q", req.CacheTTL)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = systemBlocks(req.System, req.CacheTTL)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}
	return fromMessage(msg), nil
}

func fromMessage(msg *sdk.Message) *Response {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &Response{
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Text:       b.String(),
		Usage: Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}
}
