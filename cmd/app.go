package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/config"
	"github.com/sells-group/market-study-cli/internal/embedding"
	"github.com/sells-group/market-study-cli/internal/estimate"
	"github.com/sells-group/market-study-cli/internal/knowledge"
	"github.com/sells-group/market-study-cli/internal/llm"
	"github.com/sells-group/market-study-cli/internal/memory"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/pipeline"
	"github.com/sells-group/market-study-cli/internal/resilience"
	"github.com/sells-group/market-study-cli/internal/store"
	"github.com/sells-group/market-study-cli/internal/waterfall"
	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
	"github.com/sells-group/market-study-cli/internal/websearch"
	anthropicpkg "github.com/sells-group/market-study-cli/pkg/anthropic"
	"github.com/sells-group/market-study-cli/pkg/jina"
	"github.com/sells-group/market-study-cli/pkg/linkup"
	"github.com/sells-group/market-study-cli/pkg/perplexity"
)

// appEnv holds the initialized store, knowledge index and pipeline needed
// by the generate and serve commands.
type appEnv struct {
	Store    store.Store
	Indexer  *knowledge.Indexer
	Index    *knowledge.Index
	Memory   *memory.Manager
	Pipeline *pipeline.Pipeline
	Breakers *resilience.Breakers
	Claude   *llm.Claude
}

// Close logs the token usage of the session and releases the store.
func (e *appEnv) Close() {
	if e.Claude != nil {
		if usage, calls := e.Claude.Usage(); calls > 0 {
			zap.L().Info("generation usage", append(usage.Fields(e.Claude.Model()), zap.Int("completions", calls))...)
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      c.Store.Driver,
		DatabaseURL: c.Store.DatabaseURL,
		Pool:        &store.PoolConfig{MaxConns: c.Store.MaxConns, MinConns: c.Store.MinConns},
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEmbedder returns the Gemini embedder when a key is configured and the
// local hashing embedder otherwise.
func initEmbedder(ctx context.Context, c *config.Config) (embedding.Embedder, error) {
	if c.GenAI.Key == "" {
		zap.L().Warn("MARKET_GENAI_KEY not set, using local hashing embeddings")
		return embedding.NewHashing(c.Knowledge.HashingDims), nil
	}
	return embedding.NewGenAI(ctx, embedding.GenAIConfig{
		APIKey:     c.GenAI.Key,
		Model:      c.GenAI.Model,
		Dimensions: c.GenAI.Dimensions,
		BaseURL:    c.GenAI.BaseURL,
	})
}

// initKnowledge builds the document index and its indexer over st.
func initKnowledge(ctx context.Context, c *config.Config, st store.Store) (*knowledge.Index, *knowledge.Indexer, error) {
	embedder, err := initEmbedder(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	index, err := knowledge.NewIndex(embedder, knowledge.IndexOptions{
		TopK:      c.Knowledge.TopK,
		CacheSize: c.Knowledge.CacheSize,
	})
	if err != nil {
		return nil, nil, err
	}
	pdf, err := knowledge.NewExtractor(c.Knowledge.PDFExtractor, c.Knowledge.PdfToTextPath, c.Knowledge.MistralKey)
	if err != nil {
		return nil, nil, err
	}
	indexer := knowledge.NewIndexer(knowledge.NewLoader(pdf), embedder, st, index, knowledge.IndexerOptions{
		Dir:          c.Knowledge.Dir,
		ChunkSize:    c.Knowledge.ChunkSize,
		ChunkOverlap: c.Knowledge.ChunkOverlap,
		Concurrency:  c.Knowledge.Concurrency,
		BatchSize:    c.Knowledge.BatchSize,
		EmbedRate:    c.Knowledge.EmbedRate,
		EmbedBurst:   c.Knowledge.EmbedBurst,
		Retry:        c.Resilience.Retry(),
	})
	return index, indexer, nil
}

// initWebSearch registers every backend and chains them in the configured
// order. Backends without a key answer with their not-configured text.
func initWebSearch(c *config.Config) *websearch.Chain {
	var linkupClient linkup.Client
	if c.Web.Linkup.Key != "" {
		linkupClient = linkup.NewClient(c.Web.Linkup.Key, linkup.WithBaseURL(c.Web.Linkup.BaseURL))
	}
	var jinaClient jina.Client
	if c.Web.Jina.Key != "" {
		jinaClient = jina.NewClient(c.Web.Jina.Key, jina.WithBaseURL(c.Web.Jina.SearchBaseURL))
	}
	var perplexityClient perplexity.Client
	if c.Web.Perplexity.Key != "" {
		perplexityClient = perplexity.NewClient(c.Web.Perplexity.Key,
			perplexity.WithBaseURL(c.Web.Perplexity.BaseURL),
			perplexity.WithModel(c.Web.Perplexity.Model),
		)
	}

	reg := provider.NewRegistry()
	reg.Register(websearch.BackendLinkup, websearch.NewLinkup(linkupClient))
	reg.Register(websearch.BackendJina, websearch.NewJina(jinaClient, c.Web.Jina.Country))
	reg.Register(websearch.BackendPerplexity, websearch.NewPerplexity(perplexityClient, c.Web.Perplexity.Recency))
	return websearch.NewChain(reg, c.Web.Providers...)
}

// initThresholds loads the cascade thresholds file when configured, then
// applies the per-threshold overrides of the main config.
func initThresholds(c *config.Config) (waterfall.Thresholds, error) {
	th := waterfall.DefaultThresholds()
	if c.Cascade.ThresholdsFile != "" {
		wf, err := waterfall.LoadConfig(c.Cascade.ThresholdsFile)
		if err != nil {
			return th, err
		}
		th = wf.Thresholds
	}
	if c.Cascade.InternalAcceptance > 0 {
		th.InternalAcceptance = c.Cascade.InternalAcceptance
	}
	if c.Cascade.WebConfidence > 0 {
		th.WebConfidence = c.Cascade.WebConfidence
	}
	if c.Cascade.ExpertFlag > 0 {
		th.ExpertFlag = c.Cascade.ExpertFlag
	}
	return th, th.Validate()
}

func initCatalogs(c *config.Config) (*model.Catalogs, error) {
	if c.Pipeline.CatalogsFile == "" {
		return model.NewCatalogs(), nil
	}
	return model.LoadCatalogs(c.Pipeline.CatalogsFile)
}

// buildPipeline wires the cascade, formatter and advisor around gen. A nil
// gen leaves generation unavailable; sections then carry error text.
func buildPipeline(c *config.Config, gen provider.Generator, internal provider.InternalSearcher, web provider.WebSearcher, st store.Store, mem *memory.Manager, breakers *resilience.Breakers) (*pipeline.Pipeline, error) {
	th, err := initThresholds(c)
	if err != nil {
		return nil, err
	}
	catalogs, err := initCatalogs(c)
	if err != nil {
		return nil, err
	}

	guard := provider.NewGuard(breakers, provider.Timeouts{
		Internal:   secs(c.Pipeline.InternalTimeoutSecs),
		Web:        secs(c.Web.TimeoutSecs),
		Generation: secs(c.Pipeline.GenerationTimeoutSecs),
	}).WithRetry(c.Resilience.Retry())
	var guardedGen provider.Generator
	if gen != nil {
		guardedGen = guard.Generator(gen)
	}
	var guardedInternal provider.InternalSearcher
	if internal != nil {
		guardedInternal = guard.Internal(internal)
	}
	var guardedWeb provider.WebSearcher
	if web != nil {
		guardedWeb = guard.Web(web)
	}

	var estimator waterfall.Estimator
	if guardedGen != nil {
		estimator = estimate.NewMarketEstimator(guardedGen)
	}

	deps := pipeline.Deps{
		Resolver:  waterfall.NewResolver(guardedInternal, guardedWeb, estimator, th),
		Formatter: pipeline.NewFormatter(guardedGen),
		Advisor:   guardedGen,
		Catalogs:  catalogs,
	}
	if st != nil {
		deps.Recorder = st
	}
	if mem != nil {
		deps.Memory = mem
	}
	return pipeline.New(deps, pipeline.Options{
		SafetyMargin:       c.Pipeline.SafetyMargin,
		ExpertThreshold:    th.ExpertFlag,
		AdvisorConcurrency: c.Pipeline.AdvisorConcurrency,
	}), nil
}

// initApp sets up the store, knowledge index, clients and pipeline. Callers
// should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	index, indexer, err := initKnowledge(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mem, err := memory.NewManager(memory.Options{
		Window:           cfg.Memory.Window,
		MaxConversations: cfg.Memory.MaxConversations,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var anthropicOpts []anthropicpkg.ClientOption
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if cfg.Anthropic.MaxRetries > 0 {
		anthropicOpts = append(anthropicOpts, anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries))
	}
	claude := llm.NewClaude(anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicOpts...), llm.Options{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		Temperature: cfg.Anthropic.Temperature,
		CacheTTL:    cfg.Anthropic.CacheTTL,
	})

	breakers := resilience.NewBreakers(cfg.Resilience.Circuit())
	p, err := buildPipeline(cfg, claude, index, initWebSearch(cfg), st, mem, breakers)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Info("market study environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("documents", indexer.Dir()),
		zap.Strings("web_providers", cfg.Web.Providers),
		zap.String("model", claude.Model()),
	)

	return &appEnv{
		Store:    st,
		Indexer:  indexer,
		Index:    index,
		Memory:   mem,
		Pipeline: p,
		Breakers: breakers,
		Claude:   claude,
	}, nil
}

// warmIndex loads persisted chunks and re-syncs in the background when the
// documents changed since the last run.
func warmIndex(ctx context.Context, indexer *knowledge.Indexer) {
	if err := indexer.Warm(ctx); err != nil {
		zap.L().Warn("knowledge: warm index failed", zap.Error(err))
	}
	stale, err := indexer.ShouldReindex(ctx)
	if err != nil {
		zap.L().Warn("knowledge: change detection failed", zap.Error(err))
		return
	}
	if !stale {
		return
	}
	go func() {
		if _, err := indexer.Sync(ctx, false); err != nil && ctx.Err() == nil {
			zap.L().Warn("knowledge: background sync failed", zap.Error(err))
		}
	}()
}
