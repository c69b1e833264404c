package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/webqueryai/webquery/internal/conversation"
	"github.com/webqueryai/webquery/internal/rag"
	"github.com/webqueryai/webquery/internal/testutil"
)

// fakeChatStore is an in-memory ChatStore.
type fakeChatStore struct {
	chats map[uuid.UUID]*conversation.Chat
	turns map[uuid.UUID][]conversation.Turn

	createErr error
	listErr   error
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		chats: make(map[uuid.UUID]*conversation.Chat),
		turns: make(map[uuid.UUID][]conversation.Turn),
	}
}

func (f *fakeChatStore) CreateChat(_ context.Context, title string) (*conversation.Chat, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := &conversation.Chat{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.chats[c.ID] = c
	return c, nil
}

func (f *fakeChatStore) Chat(_ context.Context, chatID uuid.UUID) (*conversation.Chat, error) {
	c, ok := f.chats[chatID]
	if !ok {
		return nil, rag.ErrChatNotFound
	}
	return c, nil
}

func (f *fakeChatStore) ListChats(_ context.Context) ([]conversation.Chat, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []conversation.Chat
	for _, c := range f.chats {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeChatStore) DeleteChat(_ context.Context, chatID uuid.UUID) error {
	if _, ok := f.chats[chatID]; !ok {
		return rag.ErrChatNotFound
	}
	delete(f.chats, chatID)
	delete(f.turns, chatID)
	return nil
}

func (f *fakeChatStore) Turns(_ context.Context, chatID uuid.UUID) ([]conversation.Turn, error) {
	if _, ok := f.chats[chatID]; !ok {
		return nil, rag.ErrChatNotFound
	}
	return f.turns[chatID], nil
}

// fakeAnswerer returns a canned answer or error.
type fakeAnswerer struct {
	answer *rag.Answer
	err    error

	lastQuery string
}

func (f *fakeAnswerer) Answer(_ context.Context, _ uuid.UUID, query string) (*rag.Answer, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type apiFixture struct {
	store    *fakeChatStore
	answerer *fakeAnswerer
	mux      *http.ServeMux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := newFakeChatStore()
	answerer := &fakeAnswerer{answer: &rag.Answer{
		Text:    "The answer [Source 1].",
		Sources: []rag.SourceRef{{URL: "https://example.com/a", Title: "Page A"}},
	}}
	mux := http.NewServeMux()
	NewChatHandler(store, answerer, testutil.DiscardLogger()).RegisterRoutes(mux)
	return &apiFixture{store: store, answerer: answerer, mux: mux}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestCreateChat(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/chats", `{"title": "my chat"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var chat conversation.Chat
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chat))
	require.Equal(t, "my chat", chat.Title)
	require.NotEqual(t, uuid.Nil, chat.ID)
}

func TestCreateChatValidation(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/chats", "not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	long := strings.Repeat("x", MaxTitleLength+1)
	rec = fx.do(t, http.MethodPost, "/api/chats", `{"title": "`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeError(t, rec).Error)
	require.Empty(t, fx.store.chats)
}

func TestListChatsEmpty(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []conversation.Chat `json:"chats"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Chats, "empty list must serialize as [], not null")
	require.Zero(t, resp.Total)
}

func TestGetChatWithTurns(t *testing.T) {
	fx := newAPIFixture(t)
	chat, err := fx.store.CreateChat(context.Background(), "with turns")
	require.NoError(t, err)
	fx.store.turns[chat.ID] = []conversation.Turn{
		{ID: uuid.New(), ChatID: chat.ID, Order: 1, UserQuery: "q", BotResponse: "a"},
	}

	rec := fx.do(t, http.MethodGet, "/api/chats/"+chat.ID.String(), "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chat  conversation.Chat   `json:"chat"`
		Turns []conversation.Turn `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, chat.ID, resp.Chat.ID)
	require.Len(t, resp.Turns, 1)
	require.Equal(t, int32(1), resp.Turns[0].Order)
}

func TestGetChatNotFound(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/chats/"+uuid.New().String(), "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeError(t, rec).Error)
}

func TestChatIDValidation(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/chats/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodDelete, "/api/chats/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteChat(t *testing.T) {
	fx := newAPIFixture(t)
	chat, err := fx.store.CreateChat(context.Background(), "")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodDelete, "/api/chats/"+chat.ID.String(), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.do(t, http.MethodDelete, "/api/chats/"+chat.ID.String(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageSuccess(t *testing.T) {
	fx := newAPIFixture(t)
	chat, err := fx.store.CreateChat(context.Background(), "")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/api/chats/"+chat.ID.String()+"/messages",
		`{"query": "what is the answer?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "The answer [Source 1].", resp.Answer)
	require.Len(t, resp.Sources, 1)
	require.Equal(t, "what is the answer?", fx.answerer.lastQuery)
}

func TestMessageNilSourcesSerializeAsEmptyArray(t *testing.T) {
	fx := newAPIFixture(t)
	fx.answerer.answer = &rag.Answer{Text: "no sources"}
	chat, err := fx.store.CreateChat(context.Background(), "")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/api/chats/"+chat.ID.String()+"/messages",
		`{"query": "q"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestMessageQueryTooLong(t *testing.T) {
	fx := newAPIFixture(t)
	chat, err := fx.store.CreateChat(context.Background(), "")
	require.NoError(t, err)

	long := strings.Repeat("x", MaxQueryLength+1)
	rec := fx.do(t, http.MethodPost, "/api/chats/"+chat.ID.String()+"/messages",
		`{"query": "`+long+`"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "empty query",
			err:        rag.ErrEmptyQuery,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "validation error",
			err:        &rag.ValidationError{Field: "query", Reason: "bad"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "chat not found",
			err:        rag.ErrChatNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
		{
			name:       "turn limit",
			err:        rag.ErrTurnLimitReached,
			wantStatus: http.StatusConflict,
			wantError:  "turn_limit_reached",
		},
		{
			name:       "embedding failure",
			err:        &rag.EmbeddingError{Transient: true, Err: errors.New("quota")},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream_error",
		},
		{
			name:       "llm failure",
			err:        &rag.LLMError{Model: "m", Err: errors.New("down")},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream_error",
		},
		{
			name:       "retrieval failure",
			err:        &rag.RetrievalError{SubQueries: 2, Errs: []error{errors.New("a"), errors.New("b")}},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream_error",
		},
		{
			name:       "aggregation invariant",
			err:        &rag.AggregationInvariantError{ChunkID: "c1"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newAPIFixture(t)
			fx.answerer.err = tt.err
			chat, err := fx.store.CreateChat(context.Background(), "")
			require.NoError(t, err)

			rec := fx.do(t, http.MethodPost, "/api/chats/"+chat.ID.String()+"/messages",
				`{"query": "q"}`)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}
