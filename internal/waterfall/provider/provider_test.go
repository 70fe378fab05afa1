package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticWeb(text string) WebSearcher {
	return WebSearchFunc(func(_ context.Context, _ string) (string, error) { return text, nil })
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r)
	assert.Empty(t, r.List())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("linkup", staticWeb("a"))
	r.Register("jina", staticWeb("b"))

	got := r.Get("linkup")
	require.NotNil(t, got)
	text, err := got.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "a", text)

	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"jina", "linkup"}, r.List())
}

func TestRegistry_Overwrite(t *testing.T) {
	r := NewRegistry()
	r.Register("jina", staticWeb("old"))
	r.Register("jina", staticWeb("new"))

	text, _ := r.Get("jina").Search(context.Background(), "q")
	assert.Equal(t, "new", text)
	assert.Len(t, r.List(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("jina", staticWeb("x"))
		}()
		go func() {
			defer wg.Done()
			_ = r.Get("jina")
			_ = r.List()
		}()
	}
	wg.Wait()
	assert.NotNil(t, r.Get("jina"))
}

func TestSearchResult_Best(t *testing.T) {
	t.Parallel()

	var nilRes *SearchResult
	assert.Zero(t, nilRes.Best())
	assert.False(t, nilRes.HasResults())
	assert.Empty(t, nilRes.Content())

	explicit := &SearchResult{Configured: true, Found: true, BestSimilarity: 0.91,
		Matches: []Match{{Similarity: 0.5}}}
	assert.InDelta(t, 0.91, explicit.Best(), 1e-9)

	derived := &SearchResult{Configured: true, Found: true,
		Matches: []Match{{Similarity: 0.42}, {Similarity: 0.77}, {Similarity: 0.6}}}
	assert.InDelta(t, 0.77, derived.Best(), 1e-9)
}

func TestSearchResult_HasResults(t *testing.T) {
	t.Parallel()

	assert.False(t, (&SearchResult{Configured: false, Found: true}).HasResults())
	assert.False(t, (&SearchResult{Configured: true, Found: false}).HasResults())
	assert.True(t, (&SearchResult{Configured: true, Found: true}).HasResults())
}
