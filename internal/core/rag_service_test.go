package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ragchat/internal/store"
	"ragchat/internal/utils"
)

type staticInsights struct {
	text string
	err  error
}

func (s staticInsights) ToolInsights(context.Context, string) (string, error) {
	return s.text, s.err
}

func newTestStore() *store.MessageStore {
	return store.NewMessageStore(utils.NewHashEncoder(64))
}

func TestAugmentEmptyChatUsesPlaceholders(t *testing.T) {
	s := newTestStore()
	rag := NewRAGService(s, staticInsights{}, 5)

	prompt := rag.Augment(context.Background(), "new-chat", "hello", nil)

	for _, want := range []string{systemFraming, "(no prior context)", "(no insights)", "User message:", "hello"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Files referenced:") {
		t.Fatalf("unexpected files line:\n%s", prompt)
	}
}

func TestAugmentRecordsUserMessage(t *testing.T) {
	s := newTestStore()
	rag := NewRAGService(s, staticInsights{}, 5)

	rag.Augment(context.Background(), "c1", "What is the weather?", nil)

	msgs := s.GetMessages("c1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Author != store.AuthorUser || msgs[0].Content != "What is the weather?" {
		t.Fatalf("recorded = %+v", msgs[0])
	}
}

func TestAugmentSectionOrder(t *testing.T) {
	s := newTestStore()
	s.AddMessage("c1", store.AuthorUser, "earlier question")
	s.AddMessage("c1", store.AuthorAssistant, "earlier answer")
	rag := NewRAGService(s, staticInsights{text: "tool says hi"}, 5)

	prompt := rag.Augment(context.Background(), "c1", "follow up", []string{"f1", "f2"})

	sections := strings.Split(prompt, "\n\n")
	if len(sections) != 8 {
		t.Fatalf("got %d sections, want 8:\n%s", len(sections), prompt)
	}
	if sections[0] != systemFraming || sections[1] != "Conversation context:" ||
		sections[3] != "Relevant MCP tool insights:" || sections[4] != "tool says hi" ||
		sections[5] != "User message:" || sections[6] != "follow up" ||
		sections[7] != "Files referenced: f1, f2" {
		t.Fatalf("unexpected layout:\n%s", prompt)
	}

	bullets := strings.Split(sections[2], "\n")
	if len(bullets) != 2 {
		t.Fatalf("got %d context bullets, want 2: %q", len(bullets), sections[2])
	}
	for _, b := range bullets {
		if !strings.HasPrefix(b, "- earlier ") {
			t.Fatalf("bad bullet %q", b)
		}
	}
}

func TestAugmentExcludesCurrentMessage(t *testing.T) {
	s := newTestStore()
	s.AddMessage("c1", store.AuthorUser, "repeat me")
	rag := NewRAGService(s, staticInsights{}, 5)

	prompt := rag.Augment(context.Background(), "c1", "repeat me", nil)

	// The earlier identical message is context; the new one is not.
	if got := strings.Count(prompt, "- repeat me"); got != 1 {
		t.Fatalf("context bullets for the message = %d, want 1:\n%s", got, prompt)
	}
}

func TestAugmentLimitsContext(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 9; i++ {
		s.AddMessage("c1", store.AuthorUser, strings.Repeat("x", i+1))
	}
	rag := NewRAGService(s, staticInsights{}, 0)

	prompt := rag.Augment(context.Background(), "c1", "query", nil)

	sections := strings.Split(prompt, "\n\n")
	if got := len(strings.Split(sections[2], "\n")); got != DefaultContextLimit {
		t.Fatalf("context bullets = %d, want %d", got, DefaultContextLimit)
	}
}

func TestAugmentInsightFailureDegrades(t *testing.T) {
	s := newTestStore()
	rag := NewRAGService(s, staticInsights{text: "ignored", err: errors.New("tool server down")}, 5)

	prompt := rag.Augment(context.Background(), "c1", "hello", nil)

	if !strings.Contains(prompt, "(no insights)") || strings.Contains(prompt, "ignored") {
		t.Fatalf("expected insight placeholder:\n%s", prompt)
	}
}

func TestAugmentChatIsolation(t *testing.T) {
	s := newTestStore()
	s.AddMessage("other", store.AuthorUser, "secret from another chat")
	rag := NewRAGService(s, staticInsights{}, 5)

	prompt := rag.Augment(context.Background(), "c1", "secret from another chat", nil)

	if !strings.Contains(prompt, "(no prior context)") {
		t.Fatalf("context leaked across chats:\n%s", prompt)
	}
}

func TestPlaceholderInsights(t *testing.T) {
	got, err := PlaceholderInsights{}.ToolInsights(context.Background(), "sales by region")
	if err != nil {
		t.Fatalf("insights: %v", err)
	}
	if !strings.HasPrefix(got, "MCP tools ready.") || !strings.HasSuffix(got, "for the prompt: sales by region") {
		t.Fatalf("unexpected insights %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PlaceholderInsights{}).ToolInsights(ctx, "q"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
