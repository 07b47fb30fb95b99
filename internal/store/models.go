package store

import (
	"slices"
	"time"
)

const (
	AuthorUser      = "user"
	AuthorAssistant = "assistant"
	AuthorSystem    = "system"
)

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Author    string    `json:"author"` // "user", "assistant" or "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"-"` // internal, used for similarity search only
}

func (m Message) clone() Message {
	m.Embedding = slices.Clone(m.Embedding)
	return m
}

// FileBlob holds uploaded bytes verbatim; the content is not indexed.
type FileBlob struct {
	ID       string
	ChatID   string
	Filename string
	Content  []byte
}

// ChatSummary is derived from the messages of one chat on demand.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}
