// Package conversation persists chats and their turns in PostgreSQL.
//
// Turn ordering is the load-bearing invariant: conversation_order is
// 1-based and gapless within each chat, enforced by a row lock on the
// chat during append. History reads never interleave turns out of order.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/rag"
)

// ErrChatNotFound indicates the chat does not exist.
// Aliased so pipeline callers can match it without importing this package.
var ErrChatNotFound = rag.ErrChatNotFound

// Store manages chat and turn persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateChat creates a new chat. Title may be empty.
func (s *Store) CreateChat(ctx context.Context, title string) (*Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (id, title) VALUES ($1, $2)
		 RETURNING id, title, created_at, updated_at`,
		uuid.New(), title,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	s.logger.Debug("chat created", "id", c.ID)
	return &c, nil
}

// Chat returns one chat with its turn count.
func (s *Store) Chat(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT ch.id, ch.title, count(t.id), ch.created_at, ch.updated_at
		 FROM chats ch
		 LEFT JOIN conversations t ON t.chat_id = ch.id
		 WHERE ch.id = $1
		 GROUP BY ch.id`,
		chatID,
	).Scan(&c.ID, &c.Title, &c.Turns, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return &c, nil
}

// ListChats returns all chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ch.id, ch.title, count(t.id), ch.created_at, ch.updated_at
		 FROM chats ch
		 LEFT JOIN conversations t ON t.chat_id = ch.id
		 GROUP BY ch.id
		 ORDER BY ch.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.Turns, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chats: %w", err)
	}
	return chats, nil
}

// DeleteChat deletes a chat and, via ON DELETE CASCADE, its turns.
func (s *Store) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	s.logger.Debug("chat deleted", "id", chatID)
	return nil
}

// Turns returns all turns of a chat in conversation order.
func (s *Store) Turns(ctx context.Context, chatID uuid.UUID) ([]Turn, error) {
	if err := s.ensureChat(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, conversation_order, user_query, bot_response, sources, created_at
		 FROM conversations
		 WHERE chat_id = $1
		 ORDER BY conversation_order ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// TurnCount returns the number of turns in a chat.
// Implements part of rag.ConversationStore.
func (s *Store) TurnCount(ctx context.Context, chatID uuid.UUID) (int, error) {
	if err := s.ensureChat(ctx, chatID); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversations WHERE chat_id = $1`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return n, nil
}

// History returns the most recent lastK turns in chronological order,
// shaped for prompt construction. Implements part of rag.ConversationStore.
func (s *Store) History(ctx context.Context, chatID uuid.UUID, lastK int) ([]rag.HistoryTurn, error) {
	if err := s.ensureChat(ctx, chatID); err != nil {
		return nil, err
	}
	if lastK <= 0 {
		return nil, nil
	}

	// Fetch newest-first with LIMIT, then reverse to chronological.
	rows, err := s.pool.Query(ctx,
		`SELECT user_query, bot_response
		 FROM conversations
		 WHERE chat_id = $1
		 ORDER BY conversation_order DESC
		 LIMIT $2`,
		chatID, lastK)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var newest []rag.HistoryTurn
	for rows.Next() {
		var t rag.HistoryTurn
		if err := rows.Scan(&t.UserQuery, &t.BotResponse); err != nil {
			return nil, fmt.Errorf("scanning history turn: %w", err)
		}
		newest = append(newest, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

// AppendTurn durably records a completed exchange and returns its 1-based
// order. Implements part of rag.ConversationStore.
//
// The chat row is locked with SELECT ... FOR UPDATE before reading the max
// order, so concurrent appends to the same chat serialize and the order
// stays gapless. The chat's updated_at is bumped in the same transaction.
func (s *Store) AppendTurn(ctx context.Context, chatID uuid.UUID, userQuery, botResponse string, sources []rag.SourceRef) (int32, error) {
	sourcesJSON, err := json.Marshal(sourceList(sources))
	if err != nil {
		return 0, fmt.Errorf("marshaling sources: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return 0, fmt.Errorf("locking chat: %w", err)
	}

	var maxOrder int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(conversation_order), 0) FROM conversations WHERE chat_id = $1`,
		chatID,
	).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("reading max order: %w", err)
	}

	order := maxOrder + 1
	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, chat_id, conversation_order, user_query, bot_response, sources)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), chatID, order, userQuery, botResponse, sourcesJSON)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return 0, fmt.Errorf("touching chat: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("turn appended", "chat_id", chatID, "order", order)
	return order, nil
}

// ensureChat returns ErrChatNotFound if the chat does not exist.
func (s *Store) ensureChat(ctx context.Context, chatID uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking chat: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return nil
}

// sourceList converts pipeline source refs to stored sources.
// Always returns a non-nil slice so the column holds [] rather than null.
func sourceList(refs []rag.SourceRef) []Source {
	out := make([]Source, len(refs))
	for i, r := range refs {
		out[i] = Source{URL: r.URL, Title: r.Title}
	}
	return out
}

func scanTurns(rows pgx.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var sourcesJSON []byte
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Order, &t.UserQuery, &t.BotResponse, &sourcesJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
				return nil, fmt.Errorf("parsing turn sources: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	return turns, nil
}
