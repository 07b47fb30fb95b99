package store

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"ragchat/internal/utils"
)

// Archiver receives every message after it is committed to the store.
// It is the extension point for shipping history out of process memory;
// the store itself keeps everything for its whole lifetime.
type Archiver interface {
	Archive(msg Message)
}

// MessageStore is the in-memory message and file store. One instance is
// created at startup and shared by all request handlers.
//
// Similarity search is a full scan over the chat's messages. There is no
// eviction: memory grows with every message and file.
type MessageStore struct {
	mu        sync.RWMutex
	encoder   utils.Encoder
	dim       int
	chats     map[string][]Message
	chatOrder []string
	files     map[string]map[string]FileBlob
	archiver  Archiver
	now       func() time.Time
}

type Option func(*MessageStore)

func WithArchiver(a Archiver) Option {
	return func(s *MessageStore) { s.archiver = a }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

func NewMessageStore(encoder utils.Encoder, opts ...Option) *MessageStore {
	if encoder == nil {
		encoder = utils.NewHashEncoder(utils.DefaultEmbeddingDim)
	}
	s := &MessageStore{
		encoder: encoder,
		dim:     encoder.Dimension(),
		chats:   make(map[string][]Message),
		files:   make(map[string]map[string]FileBlob),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMessage embeds content, assigns an id and timestamp, and appends the
// message to its chat.
func (s *MessageStore) AddMessage(chatID, author, content string) Message {
	embedding := s.embed(content)

	s.mu.Lock()
	msg := s.addMessageLocked(chatID, author, content, embedding)
	s.mu.Unlock()

	s.archive(msg)
	return msg.clone()
}

// addMessageLocked appends a message. s.mu must be held for writing.
func (s *MessageStore) addMessageLocked(chatID, author, content string, embedding []float32) Message {
	history, seen := s.chats[chatID]
	createdAt := s.now().UTC()
	// Keep timestamps non-decreasing within a chat even if the wall clock steps back.
	if n := len(history); n > 0 && createdAt.Before(history[n-1].CreatedAt) {
		createdAt = history[n-1].CreatedAt
	}
	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Author:    author,
		Content:   content,
		CreatedAt: createdAt,
		Embedding: embedding,
	}
	if !seen {
		s.chatOrder = append(s.chatOrder, chatID)
	}
	s.chats[chatID] = append(history, msg)
	return msg
}

// embed encodes text. A vector of the wrong size is dropped so the message
// is stored but never ranked.
func (s *MessageStore) embed(text string) []float32 {
	vec := s.encoder.Encode(text)
	if len(vec) != s.dim {
		slog.Warn("embedding size mismatch, message excluded from search", "want", s.dim, "got", len(vec))
		return nil
	}
	return vec
}

func (s *MessageStore) archive(msg Message) {
	if s.archiver != nil {
		s.archiver.Archive(msg.clone())
	}
}

type scoredMessage struct {
	msg   *Message
	score float32
}

// SimilarMessages returns up to limit messages of the chat ranked by cosine
// similarity to content. Equal scores keep insertion order. Messages whose
// id is listed in exclude are skipped.
func (s *MessageStore) SimilarMessages(chatID, content string, limit int, exclude ...string) []Message {
	if limit <= 0 {
		return []Message{}
	}
	query := s.embed(content)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.chats[chatID]
	scored := make([]scoredMessage, 0, len(history))
	for i := range history {
		if slices.Contains(exclude, history[i].ID) {
			continue
		}
		score, err := utils.CosineSimilarity(query, history[i].Embedding)
		if err != nil {
			continue
		}
		scored = append(scored, scoredMessage{msg: &history[i], score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Message, 0, len(scored))
	for _, sm := range scored {
		out = append(out, sm.msg.clone())
	}
	return out
}

// GetMessages returns the chat history oldest first.
func (s *MessageStore) GetMessages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.chats[chatID]
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		out = append(out, msg.clone())
	}
	return out
}

// ListChats returns one summary per chat in the order chats were first seen.
func (s *MessageStore) ListChats() []ChatSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]ChatSummary, 0, len(s.chatOrder))
	for _, chatID := range s.chatOrder {
		history := s.chats[chatID]
		summaries = append(summaries, ChatSummary{
			ID:        chatID,
			Title:     chatTitle(chatID),
			UpdatedAt: history[len(history)-1].CreatedAt,
		})
	}
	return summaries
}

// AddFile stores the bytes under a new file id and records a system
// message naming the file so uploads show up in retrieval. Both become
// visible to readers at the same time.
func (s *MessageStore) AddFile(chatID, filename string, content []byte) string {
	fileID := uuid.NewString()
	note := "File:" + filename
	embedding := s.embed(note)
	blob := FileBlob{
		ID:       fileID,
		ChatID:   chatID,
		Filename: filename,
		Content:  slices.Clone(content),
	}

	s.mu.Lock()
	chatFiles, ok := s.files[chatID]
	if !ok {
		chatFiles = make(map[string]FileBlob)
		s.files[chatID] = chatFiles
	}
	chatFiles[fileID] = blob
	msg := s.addMessageLocked(chatID, AuthorSystem, note, embedding)
	s.mu.Unlock()

	s.archive(msg)
	return fileID
}

// GetFile looks up a file's bytes. ok is false when the chat or file is unknown.
func (s *MessageStore) GetFile(chatID, fileID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.files[chatID][fileID]
	if !ok {
		return nil, false
	}
	return slices.Clone(blob.Content), true
}

func chatTitle(chatID string) string {
	runes := []rune(chatID)
	if len(runes) > 6 {
		runes = runes[:6]
	}
	return "Chat " + string(runes)
}
