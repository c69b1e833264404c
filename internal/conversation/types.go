package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Chat is one conversation thread.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title,omitempty"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is one cited page attached to a turn.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Turn is one completed user/assistant exchange.
// Order is 1-based and gapless within a chat.
type Turn struct {
	ID          uuid.UUID `json:"id"`
	ChatID      uuid.UUID `json:"chat_id"`
	Order       int32     `json:"order"`
	UserQuery   string    `json:"user_query"`
	BotResponse string    `json:"bot_response"`
	Sources     []Source  `json:"sources,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
