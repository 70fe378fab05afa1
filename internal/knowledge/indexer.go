package knowledge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-study-cli/internal/embedding"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/resilience"
)

// Store persists index metadata and chunk embeddings.
type Store interface {
	ListIndexedFiles(ctx context.Context) ([]model.IndexedFile, error)
	ReplaceFileChunks(ctx context.Context, file model.IndexedFile, chunks []model.Chunk) error
	DeleteIndexedFile(ctx context.Context, path string) error
	LoadChunks(ctx context.Context) ([]model.Chunk, error)
}

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	Dir          string
	ChunkSize    int
	ChunkOverlap int
	// Concurrency bounds the files processed in parallel.
	Concurrency int
	// BatchSize bounds the chunks sent in one embedding request.
	BatchSize int
	// EmbedRate limits embedding requests per second. Zero means unlimited.
	EmbedRate  float64
	EmbedBurst int
	Retry      resilience.RetryPolicy
}

func (o IndexerOptions) withDefaults() IndexerOptions {
	if o.Dir == "" {
		o.Dir = "data/documents"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.EmbedBurst <= 0 {
		o.EmbedBurst = 1
	}
	if o.Retry.Attempts == 0 {
		o.Retry = resilience.DefaultRetryPolicy()
	}
	return o
}

// Stats summarizes one synchronization pass.
type Stats struct {
	Scanned   int
	Indexed   int
	Unchanged int
	Removed   int
	Failed    int
	Chunks    int
	Duration  time.Duration
}

// Indexer keeps the store and the in-memory index in step with the
// documents directory.
type Indexer struct {
	loader   *Loader
	splitter Splitter
	embedder embedding.Embedder
	store    Store
	index    *Index
	limiter  *rate.Limiter
	opts     IndexerOptions

	syncMu sync.Mutex
}

// NewIndexer creates an Indexer.
func NewIndexer(loader *Loader, embedder embedding.Embedder, store Store, index *Index, opts IndexerOptions) *Indexer {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.EmbedRate > 0 {
		limit = rate.Limit(opts.EmbedRate)
	}
	if loader == nil {
		loader = NewLoader(nil)
	}
	return &Indexer{
		loader:   loader,
		splitter: NewSplitter(opts.ChunkSize, opts.ChunkOverlap),
		embedder: embedder,
		store:    store,
		index:    index,
		limiter:  rate.NewLimiter(limit, opts.EmbedBurst),
		opts:     opts,
	}
}

// Dir returns the watched documents directory.
func (x *Indexer) Dir() string { return x.opts.Dir }

// ShouldReindex reports whether any document was added, changed or removed
// since the last sync, or nothing was ever indexed.
func (x *Indexer) ShouldReindex(ctx context.Context) (bool, error) {
	known, err := x.store.ListIndexedFiles(ctx)
	if err != nil {
		return false, eris.Wrap(err, "knowledge: list indexed files")
	}
	if len(known) == 0 {
		return true, nil
	}
	files, err := Discover(x.opts.Dir)
	if err != nil {
		return false, err
	}
	hashes := make(map[string]string, len(known))
	for _, f := range known {
		hashes[f.Path] = f.Hash
	}
	if len(files) != len(hashes) {
		return true, nil
	}
	for _, path := range files {
		h, err := FileHash(path)
		if err != nil {
			return false, err
		}
		if hashes[path] != h {
			return true, nil
		}
	}
	return false, nil
}

// Warm loads the persisted chunks into the index without re-embedding.
func (x *Indexer) Warm(ctx context.Context) error {
	return x.index.Rebuild(ctx, x.store.LoadChunks)
}

// Sync re-embeds every new or changed document, drops removed ones, and
// rebuilds the index from the store. With force, every document is
// re-embedded.
func (x *Indexer) Sync(ctx context.Context, force bool) (Stats, error) {
	x.syncMu.Lock()
	defer x.syncMu.Unlock()

	start := time.Now()
	var stats Stats

	files, err := Discover(x.opts.Dir)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(files)

	known, err := x.store.ListIndexedFiles(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "knowledge: list indexed files")
	}
	hashes := make(map[string]string, len(known))
	for _, f := range known {
		hashes[f.Path] = f.Hash
	}

	var pending []string
	present := make(map[string]bool, len(files))
	for _, path := range files {
		present[path] = true
		if force {
			pending = append(pending, path)
			continue
		}
		h, err := FileHash(path)
		if err != nil {
			zap.L().Warn("knowledge: hash failed", zap.String("file", path), zap.Error(err))
			stats.Failed++
			continue
		}
		if hashes[path] == h {
			stats.Unchanged++
			continue
		}
		pending = append(pending, path)
	}

	for path := range hashes {
		if present[path] {
			continue
		}
		if err := x.store.DeleteIndexedFile(ctx, path); err != nil {
			return stats, eris.Wrapf(err, "knowledge: delete %s", path)
		}
		stats.Removed++
	}

	var indexed, failed, chunks atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.Concurrency)
	for _, path := range pending {
		g.Go(func() error {
			n, err := x.indexFile(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("knowledge: index file failed", zap.String("file", path), zap.Error(err))
				failed.Add(1)
				return nil
			}
			indexed.Add(1)
			chunks.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, eris.Wrap(err, "knowledge: sync")
	}
	stats.Indexed = int(indexed.Load())
	stats.Failed += int(failed.Load())
	stats.Chunks = int(chunks.Load())

	if err := x.index.Rebuild(ctx, x.store.LoadChunks); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)

	zap.L().Info("knowledge: sync complete",
		zap.String("dir", x.opts.Dir),
		zap.Int("scanned", stats.Scanned),
		zap.Int("indexed", stats.Indexed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("removed", stats.Removed),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (x *Indexer) indexFile(ctx context.Context, path string) (int, error) {
	doc, err := x.loader.Load(ctx, path)
	if err != nil {
		return 0, err
	}
	texts := x.splitter.Split(doc.Text)

	chunks := make([]model.Chunk, 0, len(texts))
	for start := 0; start < len(texts); start += x.opts.BatchSize {
		end := min(start+x.opts.BatchSize, len(texts))
		batch := texts[start:end]

		if err := x.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		vecs, err := resilience.Retry(ctx, x.opts.Retry, "embed "+doc.Source, func(ctx context.Context) ([][]float32, error) {
			return x.embedder.EmbedDocuments(ctx, batch)
		})
		if err != nil {
			return 0, eris.Wrapf(err, "knowledge: embed %s", doc.Source)
		}
		for i, text := range batch {
			ordinal := start + i
			chunks = append(chunks, model.Chunk{
				ID:        fmt.Sprintf("%s#%d", doc.Path, ordinal),
				Path:      doc.Path,
				Source:    doc.Source,
				Ordinal:   ordinal,
				Text:      text,
				Embedding: vecs[i],
			})
		}
	}

	file := model.IndexedFile{
		Path:      doc.Path,
		Hash:      doc.Hash,
		Chunks:    len(chunks),
		IndexedAt: time.Now().UTC(),
	}
	if err := x.store.ReplaceFileChunks(ctx, file, chunks); err != nil {
		return 0, eris.Wrapf(err, "knowledge: store %s", doc.Source)
	}
	zap.L().Debug("knowledge: indexed file", zap.String("file", doc.Source), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}
