// Package websearch adapts the web search API clients to the snippet-blob
// contract consumed by the source cascade.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
	"github.com/sells-group/market-study-cli/pkg/jina"
	"github.com/sells-group/market-study-cli/pkg/linkup"
	"github.com/sells-group/market-study-cli/pkg/perplexity"
)

// Backend names.
const (
	BackendLinkup     = "linkup"
	BackendJina       = "jina"
	BackendPerplexity = "perplexity"
)

const (
	// MaxResults caps the snippets kept from one search.
	MaxResults = 5
	// NoResultsText is returned when the backend found nothing.
	NoResultsText = "Aucun résultat trouvé via recherche web."
)

// NotConfiguredText is returned when a backend has no API key.
func NotConfiguredText(backend string) string {
	return fmt.Sprintf("Configuration %s API manquante.", displayName(backend))
}

func displayName(backend string) string {
	if backend == "" {
		return "Web"
	}
	return strings.ToUpper(backend[:1]) + backend[1:]
}

// Snippet is one normalized search hit.
type Snippet struct {
	Title string
	Text  string
}

// Render joins snippets as "Source: <title>\n<text>" blocks separated by
// provider.ChunkSeparator, keeping at most MaxResults non-empty ones.
func Render(snippets []Snippet) string {
	blocks := make([]string, 0, MaxResults)
	for _, s := range snippets {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf("Source: %s\n%s", title, text))
		if len(blocks) == MaxResults {
			break
		}
	}
	if len(blocks) == 0 {
		return NoResultsText
	}
	return strings.Join(blocks, provider.ChunkSeparator)
}

// Linkup searches through the Linkup API.
type Linkup struct {
	client linkup.Client
}

// NewLinkup creates a Linkup adapter. A nil client yields the not-configured
// sentinel on every search.
func NewLinkup(client linkup.Client) *Linkup {
	return &Linkup{client: client}
}

// Search implements provider.WebSearcher.
func (l *Linkup) Search(ctx context.Context, query string) (string, error) {
	if l.client == nil {
		return NotConfiguredText(BackendLinkup), nil
	}
	resp, err := l.client.Search(ctx, linkup.SearchRequest{
		Query:      query,
		Depth:      linkup.DepthStandard,
		OutputType: linkup.OutputSearchResults,
	})
	if err != nil {
		var se *linkup.StatusError
		if errors.As(err, &se) {
			return "", eris.Wrap(err, "Erreur HTTP lors de la recherche web")
		}
		return "", eris.Wrap(err, "Erreur lors de la recherche web")
	}
	snippets := make([]Snippet, 0, len(resp.Results))
	for _, r := range resp.Results {
		snippets = append(snippets, Snippet{Title: r.Heading(), Text: r.Text()})
	}
	return Render(snippets), nil
}

// Jina searches through the Jina search API.
type Jina struct {
	client  jina.Client
	country string
}

// NewJina creates a Jina adapter. country biases results, empty for none.
func NewJina(client jina.Client, country string) *Jina {
	return &Jina{client: client, country: country}
}

// Search implements provider.WebSearcher.
func (j *Jina) Search(ctx context.Context, query string) (string, error) {
	if j.client == nil {
		return NotConfiguredText(BackendJina), nil
	}
	var opts []jina.SearchOption
	if j.country != "" {
		opts = append(opts, jina.WithCountry(j.country))
	}
	resp, err := j.client.Search(ctx, query, opts...)
	if err != nil {
		return "", eris.Wrap(err, "Erreur lors de la recherche web")
	}
	snippets := make([]Snippet, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippets = append(snippets, Snippet{Title: r.Title, Text: r.Snippet()})
	}
	return Render(snippets), nil
}

const perplexityRole = "Tu es un assistant de recherche documentaire. Réponds en français avec des faits " +
	"vérifiables, des chiffres datés et leurs sources. N'invente aucune donnée."

// Perplexity answers queries with the grounded Perplexity chat model. The
// answer is rendered as a single snippet with its citations appended.
type Perplexity struct {
	client  perplexity.Client
	recency string
}

// NewPerplexity creates a Perplexity adapter. recency is a Perplexity
// search_recency_filter value, empty for none.
func NewPerplexity(client perplexity.Client, recency string) *Perplexity {
	return &Perplexity{client: client, recency: recency}
}

// Search implements provider.WebSearcher.
func (p *Perplexity) Search(ctx context.Context, query string) (string, error) {
	if p.client == nil {
		return NotConfiguredText(BackendPerplexity), nil
	}
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: perplexityRole},
			{Role: "user", Content: query},
		},
		SearchRecencyFilter: p.recency,
	})
	if err != nil {
		return "", eris.Wrap(err, "Erreur lors de la recherche web")
	}
	answer := resp.Text()
	if answer == "" {
		return NoResultsText, nil
	}
	snippets := []Snippet{{Title: "Perplexity", Text: answer}}
	if len(resp.Citations) > 0 {
		snippets[0].Text += "\n\nRéférences: " + strings.Join(resp.Citations, ", ")
	}
	return Render(snippets), nil
}

// Chain tries backends in order and returns the first answer that is
// neither an error nor a sentinel.
type Chain struct {
	names    []string
	backends []provider.WebSearcher
}

// NewChain builds a chain over the named backends of reg. Unknown names are
// skipped with a warning.
func NewChain(reg *provider.Registry, names ...string) *Chain {
	c := &Chain{}
	for _, name := range names {
		b := reg.Get(name)
		if b == nil {
			zap.L().Warn("websearch: unknown backend", zap.String("backend", name))
			continue
		}
		c.names = append(c.names, name)
		c.backends = append(c.backends, b)
	}
	return c
}

// Len returns the number of backends in the chain.
func (c *Chain) Len() int { return len(c.backends) }

// Search implements provider.WebSearcher.
func (c *Chain) Search(ctx context.Context, query string) (string, error) {
	if len(c.backends) == 0 {
		return NotConfiguredText(""), nil
	}
	var (
		lastText string
		lastErr  error
	)
	for i, b := range c.backends {
		text, err := b.Search(ctx, query)
		if err != nil {
			zap.L().Debug("websearch: backend failed, trying next",
				zap.String("backend", c.names[i]),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if isSentinel(text) {
			lastText = text
			continue
		}
		return text, nil
	}
	if lastText != "" {
		return lastText, nil
	}
	return "", eris.Wrap(lastErr, "websearch: all backends failed")
}

func isSentinel(text string) bool {
	return text == "" || text == NoResultsText || strings.HasPrefix(text, "Configuration ")
}
