package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/webqueryai/webquery/db"
	"github.com/webqueryai/webquery/internal/config"
	"github.com/webqueryai/webquery/internal/conversation"
	"github.com/webqueryai/webquery/internal/knowledge"
	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/rag"
)

// app holds the wired application components shared by the commands.
type app struct {
	cfg    *config.Config
	logger log.Logger
	pool   *pgxpool.Pool
	genkit *genkit.Genkit

	knowledge *knowledge.Store
	convs     *conversation.Store
	engine    *rag.Engine
	indexer   *rag.Indexer
}

// setup loads configuration, runs migrations, and wires the pipeline.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: false})

	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	// One limiter for all Gemini traffic. Burst matches the fan-out bound
	// so parallel sub-queries can start together, then settle to the
	// configured steady rate.
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrentRequests)
	retrier := rag.NewRetrier(rag.RetryConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: time.Duration(cfg.RetryDelaySeconds * float64(time.Second)),
		MaxInterval:     30 * time.Second,
	}, limiter, logger)

	embedder, err := rag.NewGenkitEmbedder(
		googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		cfg.EmbeddingDimensions, retrier, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	kstore, err := knowledge.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	convs, err := conversation.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}

	analyzer, err := rag.NewAnalyzer(g, rag.AnalyzerConfig{
		Model:         qualifyModel(cfg.AnalysisModel),
		Temperature:   cfg.AnalysisTemperature,
		MaxTokens:     cfg.AnalysisMaxTokens,
		MaxSubQueries: cfg.MaxSubQueries,
	}, retrier, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating analyzer: %w", err)
	}

	retriever, err := rag.NewRetriever(embedder, &storeSearcher{store: kstore}, rag.RetrieverConfig{
		DocumentsPerQuery: cfg.DocumentsPerQuery,
		MaxConcurrent:     cfg.MaxConcurrentRequests,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	aggregator, err := rag.NewAggregator(cfg.MaxTotalDocuments)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating aggregator: %w", err)
	}

	synthesizer, err := rag.NewSynthesizer(g, rag.SynthesizerConfig{
		Model:       qualifyModel(cfg.ResponseModel),
		Temperature: cfg.ResponseTemperature,
		MaxTokens:   cfg.ResponseMaxTokens,
	}, retrier, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}

	engine, err := rag.NewEngine(analyzer, retriever, aggregator, synthesizer, convs, rag.EngineConfig{
		HistoryTurns:    cfg.HistoryTurns,
		MaxTurnsPerChat: cfg.MaxTurnsPerChat,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	indexer, err := rag.NewIndexer(chunker, embedder, kstore, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating indexer: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		genkit:    g,
		knowledge: kstore,
		convs:     convs,
		engine:    engine,
		indexer:   indexer,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// qualifyModel prefixes bare Gemini model names with the googleai provider.
// Already-qualified names (googleai/..., mock/...) pass through.
func qualifyModel(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "googleai/" + name
}

// storeSearcher adapts knowledge.Store to the pipeline's Searcher interface.
type storeSearcher struct {
	store *knowledge.Store
}

func (s *storeSearcher) Search(ctx context.Context, embedding []float32, limit int) ([]rag.RetrievedChunk, error) {
	hits, err := s.store.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}
	out := make([]rag.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = rag.RetrievedChunk{
			ChunkID: h.ChunkID.String(),
			Score:   h.Score,
			Text:    h.Text,
			URL:     h.URL,
			Title:   h.Title,
		}
	}
	return out, nil
}
