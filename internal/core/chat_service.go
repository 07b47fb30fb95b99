package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"ragchat/internal/store"
)

const (
	DefaultGenerationTimeout = 30 * time.Second
	maxConcurrentFileReads   = 4
)

type Project struct {
	ID          string
	Name        string
	Description string
}

// Upload is one file received from a client. Open may be called
// concurrently with the Open of other uploads.
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// Reply is the assistant message recorded for a successful generation.
type Reply struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

type ChatService struct {
	store             *store.MessageStore
	ragService        *RAGService
	generator         Generator
	generationTimeout time.Duration
	projects          []Project
}

func NewChatService(s *store.MessageStore, rag *RAGService, generator Generator, generationTimeout time.Duration) *ChatService {
	if generationTimeout <= 0 {
		generationTimeout = DefaultGenerationTimeout
	}
	return &ChatService{
		store:             s,
		ragService:        rag,
		generator:         generator,
		generationTimeout: generationTimeout,
		projects: []Project{
			{
				ID:          "default",
				Name:        "Getting started",
				Description: "Placeholder project showcasing how to hook the MCP tools",
			},
		},
	}
}

func (s *ChatService) GetProjects() []Project {
	return append([]Project(nil), s.projects...)
}

func (s *ChatService) GetChats() []store.ChatSummary {
	return s.store.ListChats()
}

func (s *ChatService) GetChatMessages(chatID string) []store.Message {
	return s.store.GetMessages(chatID)
}

func (s *ChatService) GetFile(chatID, fileID string) ([]byte, bool) {
	return s.store.GetFile(chatID, fileID)
}

// StoreFiles reads every upload and stores it in the chat. File ids are
// returned in input order. Nothing is stored if any upload cannot be read.
func (s *ChatService) StoreFiles(ctx context.Context, chatID string, uploads []Upload) ([]string, error) {
	contents := make([][]byte, len(uploads))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFileReads)
	for i, upload := range uploads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := readUpload(upload)
			if err != nil {
				return fmt.Errorf("read upload %q: %w", upload.Filename, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fileIDs := make([]string, 0, len(uploads))
	for i, upload := range uploads {
		fileIDs = append(fileIDs, s.store.AddFile(chatID, upload.Filename, contents[i]))
	}
	slog.Info("stored files", "chat_id", chatID, "count", len(fileIDs))
	return fileIDs, nil
}

func readUpload(upload Upload) ([]byte, error) {
	if upload.Open == nil {
		return nil, fmt.Errorf("no content")
	}
	rc, err := upload.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// GenerateResponse runs the retrieval pipeline, asks the generator for a
// reply and records it as an assistant message. Any message is accepted.
// A failed generation returns ErrGenerationUnavailable and records no
// assistant message; the user message stored by the pipeline stays.
func (s *ChatService) GenerateResponse(ctx context.Context, chatID, message string, fileIDs []string) (*Reply, error) {
	prompt := s.ragService.Augment(ctx, chatID, message, fileIDs)
	slog.Debug("prompt composed", "chat_id", chatID, "prompt_bytes", len(prompt))

	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()

	content, err := s.generator.Generate(genCtx, prompt)
	if err != nil {
		if !errors.Is(err, ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}
		return nil, err
	}

	modelMessage := s.store.AddMessage(chatID, store.AuthorAssistant, content)
	return &Reply{
		ID:        modelMessage.ID,
		Content:   modelMessage.Content,
		CreatedAt: modelMessage.CreatedAt,
	}, nil
}
