// Package llm adapts the Anthropic client to the text generation contract
// used by the formatter, the estimator and the expert advisor.
package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
	"github.com/sells-group/market-study-cli/pkg/anthropic"
)

// Defaults for report generation.
const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.3
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = eris.New("llm: empty response")

// Options configures a Claude generator.
type Options struct {
	Model       string
	MaxTokens   int64
	// Temperature below zero uses DefaultTemperature.
	Temperature float64
	// CacheTTL enables prompt caching of the system role ("5m" or "1h").
	// Empty disables caching.
	CacheTTL string
	// Purpose labels token usage logs.
	Purpose string
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature < 0 {
		o.Temperature = DefaultTemperature
	}
	if o.Purpose == "" {
		o.Purpose = "report"
	}
	return o
}

// DefaultOptions returns the generation settings used for reports.
func DefaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		CacheTTL:    anthropic.CacheTTLShort,
	}
}

// meter sums token usage across copies of a Claude.
type meter struct {
	mu    sync.Mutex
	usage anthropic.Usage
	calls int
}

func (m *meter) add(u anthropic.Usage) {
	m.mu.Lock()
	m.usage = m.usage.Add(u)
	m.calls++
	m.mu.Unlock()
}

// Claude implements provider.Generator over the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	opts   Options
	meter  *meter
}

// NewClaude creates a Claude generator.
func NewClaude(client anthropic.Client, opts Options) *Claude {
	return &Claude{client: client, opts: opts.withDefaults(), meter: &meter{}}
}

// WithPurpose returns a copy whose token usage is logged under purpose. The
// copy shares the usage totals of c.
func (c *Claude) WithPurpose(purpose string) *Claude {
	cp := *c
	cp.opts.Purpose = purpose
	return &cp
}

// Model returns the configured model id.
func (c *Claude) Model() string { return c.opts.Model }

// Usage returns the tokens consumed so far and the number of completions.
func (c *Claude) Usage() (anthropic.Usage, int) {
	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	return c.meter.usage, c.meter.calls
}

// Generate implements provider.Generator.
func (c *Claude) Generate(ctx context.Context, systemRole, userContent string) (string, error) {
	if c == nil || c.client == nil {
		return "", eris.Wrap(provider.ErrUnavailable, "llm: no client configured")
	}

	temp := c.opts.Temperature
	resp, err := c.client.Complete(ctx, anthropic.Request{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		System:      systemRole,
		CacheTTL:    c.opts.CacheTTL,
		Prompt:      userContent,
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: generate")
	}
	c.meter.add(resp.Usage)
	zap.L().Debug("llm: token usage", append(resp.Usage.Fields(c.opts.Model), zap.String("purpose", c.opts.Purpose))...)

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		zap.L().Warn("llm: empty response",
			zap.String("purpose", c.opts.Purpose),
			zap.String("stop_reason", resp.StopReason),
		)
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ErrorText renders a generation failure the way it is surfaced in reports.
func ErrorText(err error) string {
	return "Erreur lors de la génération: " + err.Error()
}
