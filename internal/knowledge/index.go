package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/embedding"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

// Search defaults.
const (
	DefaultTopK      = 3
	DefaultCacheSize = 256
)

// IndexOptions configures an Index.
type IndexOptions struct {
	TopK int
	// CacheSize bounds the query-embedding cache. Zero uses the default.
	CacheSize int
}

type snapshot struct {
	chunks []model.Chunk
}

// Index is an in-memory vector index over document chunks. Searches read
// an immutable snapshot; Rebuild swaps in a new one.
type Index struct {
	embedder embedding.Embedder
	topK     int
	queries  *lru.Cache[string, []float32]

	mu   sync.RWMutex
	snap *snapshot

	rebuildMu sync.Mutex
}

// NewIndex creates an empty Index.
func NewIndex(embedder embedding.Embedder, opts IndexOptions) (*Index, error) {
	if embedder == nil {
		return nil, eris.New("knowledge: embedder is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "knowledge: create query cache")
	}
	return &Index{
		embedder: embedder,
		topK:     opts.TopK,
		queries:  cache,
		snap:     &snapshot{},
	}, nil
}

// Len returns the number of chunks in the current snapshot.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.snap.chunks)
}

// Sources returns the distinct document names in the current snapshot.
func (ix *Index) Sources() []string {
	ix.mu.RLock()
	chunks := ix.snap.chunks
	ix.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	sort.Strings(out)
	return out
}

// Rebuild replaces the snapshot with the chunks returned by build. Only one
// rebuild runs at a time; searches keep reading the previous snapshot until
// the swap.
func (ix *Index) Rebuild(ctx context.Context, build func(ctx context.Context) ([]model.Chunk, error)) error {
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	chunks, err := build(ctx)
	if err != nil {
		return eris.Wrap(err, "knowledge: rebuild index")
	}
	ready := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		embedding.Normalize(vec)
		c.Embedding = vec
		ready = append(ready, c)
	}

	ix.mu.Lock()
	ix.snap = &snapshot{chunks: ready}
	ix.mu.Unlock()

	ix.queries.Purge()
	zap.L().Info("knowledge: index rebuilt", zap.Int("chunks", len(ready)))
	return nil
}

type hit struct {
	chunk    *model.Chunk
	distance float64
}

// Search implements provider.InternalSearcher. The top chunks by squared
// euclidean distance are grouped per file, deduplicated, and scored with
// similarity 1/(1+distance).
func (ix *Index) Search(ctx context.Context, query string) (*provider.SearchResult, error) {
	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()

	res := &provider.SearchResult{Configured: true}
	if len(snap.chunks) == 0 {
		res.Text = provider.NoInformationText
		return res, nil
	}

	qvec, err := ix.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	hits := make([]hit, 0, len(snap.chunks))
	for i := range snap.chunks {
		c := &snap.chunks[i]
		if len(c.Embedding) != len(qvec) {
			continue
		}
		hits = append(hits, hit{chunk: c, distance: squaredDistance(qvec, c.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > ix.topK {
		hits = hits[:ix.topK]
	}
	if len(hits) == 0 {
		res.Text = provider.NoInformationText
		return res, nil
	}

	res.Found = true
	res.Matches = groupHits(hits)
	best := hits[0].distance
	res.BestSimilarity = provider.SimilarityFromDistance(best)
	res.Text = provider.FormatMarkers(res)
	return res, nil
}

func (ix *Index) queryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := ix.queries.Get(query); ok {
		return v, nil
	}
	v, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "knowledge: embed query")
	}
	vec := make([]float32, len(v))
	copy(vec, v)
	embedding.Normalize(vec)
	ix.queries.Add(query, vec)
	return vec, nil
}

// groupHits consolidates hits per source file in first-seen order. Each
// file keeps its best distance; chunk texts equal after whitespace
// normalization are kept once.
func groupHits(hits []hit) []provider.Match {
	type group struct {
		best     float64
		contents []string
		seen     map[string]bool
	}
	var order []string
	groups := make(map[string]*group)
	for _, h := range hits {
		g, ok := groups[h.chunk.Source]
		if !ok {
			g = &group{best: h.distance, seen: make(map[string]bool)}
			groups[h.chunk.Source] = g
			order = append(order, h.chunk.Source)
		}
		if h.distance < g.best {
			g.best = h.distance
		}
		key := strings.Join(strings.Fields(h.chunk.Text), " ")
		if g.seen[key] {
			continue
		}
		g.seen[key] = true
		g.contents = append(g.contents, h.chunk.Text)
	}

	matches := make([]provider.Match, 0, len(order))
	for _, src := range order {
		g := groups[src]
		matches = append(matches, provider.Match{
			Source:     src,
			Similarity: provider.SimilarityFromDistance(g.best),
			Distance:   g.best,
			Content:    strings.Join(g.contents, "\n\n"),
		})
	}
	return matches
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
