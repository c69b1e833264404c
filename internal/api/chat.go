package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/webqueryai/webquery/internal/conversation"
	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/rag"
)

// Request validation constants.
const (
	MaxTitleLength = 200
	MaxQueryLength = 10000
)

// ChatStore is what the handlers need from conversation persistence.
// Implemented by conversation.Store.
type ChatStore interface {
	CreateChat(ctx context.Context, title string) (*conversation.Chat, error)
	Chat(ctx context.Context, chatID uuid.UUID) (*conversation.Chat, error)
	ListChats(ctx context.Context) ([]conversation.Chat, error)
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
	Turns(ctx context.Context, chatID uuid.UUID) ([]conversation.Turn, error)
}

// Answerer runs the question-answering pipeline for one chat message.
// Implemented by rag.Engine.
type Answerer interface {
	Answer(ctx context.Context, chatID uuid.UUID, query string) (*rag.Answer, error)
}

// ChatHandler handles chat and message endpoints.
type ChatHandler struct {
	store    ChatStore
	answerer Answerer
	logger   log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(store ChatStore, answerer Answerer, logger log.Logger) *ChatHandler {
	return &ChatHandler{store: store, answerer: answerer, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chats", h.list)
	mux.HandleFunc("POST /api/chats", h.create)
	mux.HandleFunc("GET /api/chats/{id}", h.get)
	mux.HandleFunc("DELETE /api/chats/{id}", h.delete)
	mux.HandleFunc("POST /api/chats/{id}/messages", h.message)
}

// CreateChatRequest is the request body for creating a chat.
type CreateChatRequest struct {
	Title string `json:"title"`
}

func (h *ChatHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long (max 200 characters)")
		return
	}

	chat, err := h.store.CreateChat(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("failed to create chat", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) list(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ListChats(r.Context())
	if err != nil {
		h.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list chats")
		return
	}
	if chats == nil {
		chats = []conversation.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chats": chats,
		"total": len(chats),
	})
}

func (h *ChatHandler) get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	chat, err := h.store.Chat(r.Context(), chatID)
	if err != nil {
		h.writeStoreError(w, err, "failed to get chat")
		return
	}
	turns, err := h.store.Turns(r.Context(), chatID)
	if err != nil {
		h.writeStoreError(w, err, "failed to load turns")
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat":  chat,
		"turns": turns,
	})
}

func (h *ChatHandler) delete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteChat(r.Context(), chatID); err != nil {
		h.writeStoreError(w, err, "failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MessageRequest is the request body for asking a question.
type MessageRequest struct {
	Query string `json:"query"`
}

// MessageResponse is the answer payload.
type MessageResponse struct {
	Answer     string          `json:"answer"`
	Sources    []rag.SourceRef `json:"sources"`
	SubQueries []string        `json:"sub_queries,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
}

func (h *ChatHandler) message(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 10000 characters)")
		return
	}

	answer, err := h.answerer.Answer(r.Context(), chatID, req.Query)
	if err != nil {
		h.writeAnswerError(w, err)
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []rag.SourceRef{}
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Answer:     answer.Text,
		Sources:    sources,
		SubQueries: answer.SubQueries,
		Fallback:   answer.Fallback,
	})
}

// chatID parses the {id} path value. Writes a 400 and returns false on
// malformed IDs.
func (h *ChatHandler) chatID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid chat id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ChatHandler) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, rag.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", msg)
}

// writeAnswerError maps pipeline failures to HTTP statuses. Provider
// failures are 502 so clients can distinguish upstream trouble from bugs.
func (h *ChatHandler) writeAnswerError(w http.ResponseWriter, err error) {
	var (
		valErr *rag.ValidationError
		embErr *rag.EmbeddingError
		llmErr *rag.LLMError
		retErr *rag.RetrievalError
		aggErr *rag.AggregationInvariantError
	)

	switch {
	case errors.Is(err, rag.ErrEmptyQuery), errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, rag.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
	case errors.Is(err, rag.ErrTurnLimitReached):
		writeError(w, http.StatusConflict, "turn_limit_reached", err.Error())
	case errors.As(err, &embErr), errors.As(err, &llmErr), errors.As(err, &retErr):
		h.logger.Error("pipeline provider failure", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "answer generation failed, try again")
	case errors.As(err, &aggErr):
		h.logger.Error("aggregation invariant violated", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "inconsistent index state, try again")
	default:
		h.logger.Error("answer failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to answer")
	}
}
