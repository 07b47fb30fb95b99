package core

import (
	"context"
	"log/slog"
	"strings"

	"ragchat/internal/store"
)

const (
	DefaultContextLimit = 5 // Number of prior messages retrieved as context

	systemFraming      = "You are a helpful assistant."
	noContextText      = "(no prior context)"
	noInsightsText     = "(no insights)"
	contextHeading     = "Conversation context:"
	insightsHeading    = "Relevant MCP tool insights:"
	userMessageHeading = "User message:"
)

// RAGService records the user's message and builds the augmented prompt
// from similar prior messages and tool insights.
type RAGService struct {
	store        *store.MessageStore
	insights     InsightProvider
	contextLimit int
}

func NewRAGService(s *store.MessageStore, insights InsightProvider, contextLimit int) *RAGService {
	if insights == nil {
		insights = PlaceholderInsights{}
	}
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	return &RAGService{
		store:        s,
		insights:     insights,
		contextLimit: contextLimit,
	}
}

// Augment stores userMessage as a user turn and returns the prompt to send
// to the generator. The just-stored message is excluded from its own
// context search, so the first turn of a chat gets no context.
func (s *RAGService) Augment(ctx context.Context, chatID, userMessage string, fileIDs []string) string {
	userMsg := s.store.AddMessage(chatID, store.AuthorUser, userMessage)

	similar := s.store.SimilarMessages(chatID, userMessage, s.contextLimit, userMsg.ID)

	insights, err := s.insights.ToolInsights(ctx, userMessage)
	if err != nil {
		slog.Warn("tool insights unavailable, continuing without them", "chat_id", chatID, "err", err)
		insights = ""
	}

	slog.Debug("prompt context assembled", "chat_id", chatID, "context_messages", len(similar), "insights_bytes", len(insights))
	return composePrompt(similar, insights, userMessage, fileIDs)
}

func composePrompt(contextMsgs []store.Message, insights, userMessage string, fileIDs []string) string {
	contextText := noContextText
	if len(contextMsgs) > 0 {
		var sb strings.Builder
		for i, msg := range contextMsgs {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("- ")
			sb.WriteString(msg.Content)
		}
		contextText = sb.String()
	}

	if insights == "" {
		insights = noInsightsText
	}

	sections := []string{
		systemFraming,
		contextHeading,
		contextText,
		insightsHeading,
		insights,
		userMessageHeading,
		userMessage,
	}
	if len(fileIDs) > 0 {
		sections = append(sections, "Files referenced: "+strings.Join(fileIDs, ", "))
	}
	return strings.Join(sections, "\n\n")
}
