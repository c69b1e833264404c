package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webqueryai/webquery/internal/log"
)

// ConversationStore is what the engine needs from conversation persistence.
// Implemented by conversation.Store.
type ConversationStore interface {
	// History returns the most recent lastK turns in chronological order.
	// Must return ErrChatNotFound (wrapped is fine) for unknown chats.
	History(ctx context.Context, chatID uuid.UUID, lastK int) ([]HistoryTurn, error)
	// TurnCount returns the number of turns recorded for the chat.
	TurnCount(ctx context.Context, chatID uuid.UUID) (int, error)
	// AppendTurn durably records a completed exchange and returns its
	// 1-based order within the chat.
	AppendTurn(ctx context.Context, chatID uuid.UUID, userQuery, botResponse string, sources []SourceRef) (int32, error)
}

// EngineConfig configures the question-answering pipeline.
type EngineConfig struct {
	HistoryTurns    int
	MaxTurnsPerChat int
}

// Engine orchestrates the full pipeline: decompose, retrieve, aggregate,
// synthesize, persist.
type Engine struct {
	analyzer    *Analyzer
	retriever   *Retriever
	aggregator  *Aggregator
	synthesizer *Synthesizer
	convs       ConversationStore
	cfg         EngineConfig
	logger      log.Logger
}

// NewEngine wires the pipeline stages together.
func NewEngine(
	analyzer *Analyzer,
	retriever *Retriever,
	aggregator *Aggregator,
	synthesizer *Synthesizer,
	convs ConversationStore,
	cfg EngineConfig,
	logger log.Logger,
) (*Engine, error) {
	if analyzer == nil || retriever == nil || aggregator == nil || synthesizer == nil {
		return nil, fmt.Errorf("all pipeline stages are required")
	}
	if convs == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.HistoryTurns < 0 {
		return nil, fmt.Errorf("history turns must be non-negative, got %d", cfg.HistoryTurns)
	}
	if cfg.MaxTurnsPerChat <= 0 {
		return nil, fmt.Errorf("max turns per chat must be positive, got %d", cfg.MaxTurnsPerChat)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		analyzer:    analyzer,
		retriever:   retriever,
		aggregator:  aggregator,
		synthesizer: synthesizer,
		convs:       convs,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Answer runs the pipeline for one user query in the given chat.
//
// The turn is written only after synthesis succeeds: a failed pipeline
// leaves the conversation exactly as it was, so a retry of the same
// question is indistinguishable from the first attempt.
//
// The turn cap is checked before any provider call so a full chat costs
// nothing. The cap check and the append are not one atomic unit; under
// concurrent requests to the same chat the count can briefly exceed the
// cap by the number of racing requests, which is acceptable for a
// per-chat limit that exists to bound context growth.
func (e *Engine) Answer(ctx context.Context, chatID uuid.UUID, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w", ErrEmptyQuery)
	}

	count, err := e.convs.TurnCount(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("counting turns: %w", err)
	}
	if count >= e.cfg.MaxTurnsPerChat {
		return nil, fmt.Errorf("%w: chat %s has %d turns (max %d)",
			ErrTurnLimitReached, chatID, count, e.cfg.MaxTurnsPerChat)
	}

	history, err := e.convs.History(ctx, chatID, e.cfg.HistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	start := time.Now()

	dec := e.analyzer.Decompose(ctx, query, history)

	hits, err := e.retriever.Retrieve(ctx, dec.SubQueries)
	if err != nil {
		return nil, err
	}

	sources, err := e.aggregator.Aggregate(hits)
	if err != nil {
		return nil, err
	}

	answer, err := e.synthesizer.Synthesize(ctx, query, history, sources)
	if err != nil {
		return nil, err
	}

	answer.Fallback = dec.Fallback
	answer.SubQueries = make([]string, len(dec.SubQueries))
	for i, sq := range dec.SubQueries {
		answer.SubQueries[i] = sq.Text
	}

	order, err := e.convs.AppendTurn(ctx, chatID, query, answer.Text, answer.Sources)
	if err != nil {
		return nil, fmt.Errorf("recording turn: %w", err)
	}

	e.logger.Info("query answered",
		"chat_id", chatID,
		"turn", order,
		"sub_queries", len(dec.SubQueries),
		"fallback", dec.Fallback,
		"sources", len(answer.Sources),
		"elapsed", time.Since(start),
	)
	return answer, nil
}
