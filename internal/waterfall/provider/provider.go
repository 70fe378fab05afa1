// Package provider defines the collaborator contracts consumed by the source
// cascade: internal document search, web search and text generation.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnavailable means the collaborator is not configured or its circuit
	// is open.
	ErrUnavailable = eris.New("provider: collaborator unavailable")
	// ErrTimeout means the collaborator did not answer within its deadline.
	ErrTimeout = eris.New("provider: collaborator timed out")
)

// Match is one document hit of an internal search, grouped by file.
type Match struct {
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
	Content    string  `json:"content"`
}

// SearchResult is the typed answer of an internal search.
type SearchResult struct {
	// Configured is false when no document index is available.
	Configured bool `json:"configured"`
	// Found is false when the index returned nothing for the query.
	Found bool `json:"found"`
	// BestSimilarity is the explicit best score, zero when not reported.
	BestSimilarity float64 `json:"best_similarity"`
	Matches        []Match `json:"matches"`
	// Text is the rendered blob that downstream checks and the formatter
	// read. Empty means FormatMarkers renders it on demand.
	Text string `json:"text"`
}

// HasResults reports whether the search produced usable hits.
func (r *SearchResult) HasResults() bool {
	return r != nil && r.Configured && r.Found
}

// Best returns the explicit best similarity or, when absent, the maximum of
// the per-match scores.
func (r *SearchResult) Best() float64 {
	if r == nil {
		return 0
	}
	if r.BestSimilarity > 0 {
		return r.BestSimilarity
	}
	var best float64
	for _, m := range r.Matches {
		if m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

// Content returns the text used for sufficiency, relevance and numeric
// checks.
func (r *SearchResult) Content() string {
	if r == nil {
		return ""
	}
	if r.Text != "" {
		return r.Text
	}
	if !r.HasResults() {
		return ""
	}
	return FormatMarkers(r)
}

// InternalSearcher queries the internal document index.
type InternalSearcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// WebSearcher queries the web and returns a snippet blob. A "no results"
// sentinel or error-prefixed text are valid answers.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Generator produces text from a system role and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemRole, userContent string) (string, error)
}

// InternalSearchFunc adapts a function to InternalSearcher.
type InternalSearchFunc func(ctx context.Context, query string) (*SearchResult, error)

// Search implements InternalSearcher.
func (f InternalSearchFunc) Search(ctx context.Context, query string) (*SearchResult, error) {
	return f(ctx, query)
}

// WebSearchFunc adapts a function to WebSearcher.
type WebSearchFunc func(ctx context.Context, query string) (string, error)

// Search implements WebSearcher.
func (f WebSearchFunc) Search(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemRole, userContent string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, systemRole, userContent string) (string, error) {
	return f(ctx, systemRole, userContent)
}

// Registry holds the named web search backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]WebSearcher
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]WebSearcher),
	}
}

// Register adds a backend under name.
func (r *Registry) Register(name string, s WebSearcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = s
}

// Get returns a backend by name, or nil if not found.
func (r *Registry) Get(name string) WebSearcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[name]
}

// List returns all registered backend names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
