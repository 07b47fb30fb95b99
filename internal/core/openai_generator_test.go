package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestOpenAIGenerator(url string, retries int) *OpenAIGenerator {
	g := NewOpenAIGenerator(url, "test-key", "test-model", retries)
	g.retryBase = time.Millisecond
	return g
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestOpenAIGeneratorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req oaiChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 1 || req.Messages[0].Content != "prompt text" {
			t.Errorf("request = %+v", req)
		}
		writeCompletion(w, "  It is sunny.  ")
	}))
	defer srv.Close()

	got, err := newTestOpenAIGenerator(srv.URL+"/v1/", 0).Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "It is sunny." {
		t.Fatalf("reply = %q, want %q", got, "It is sunny.")
	}
}

func TestOpenAIGeneratorRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "recovered")
	}))
	defer srv.Close()

	got, err := newTestOpenAIGenerator(srv.URL, 2).Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "recovered" || calls.Load() != 2 {
		t.Fatalf("reply = %q after %d calls", got, calls.Load())
	}
}

func TestOpenAIGeneratorFailures(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		retries   int
		wantCalls int32
	}{
		{
			name: "client error is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
			},
			retries:   3,
			wantCalls: 1,
		},
		{
			name: "server errors exhaust retries",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			retries:   2,
			wantCalls: 3,
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			wantCalls: 1,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantCalls: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tc.handler(w, r)
			}))
			defer srv.Close()

			_, err := newTestOpenAIGenerator(srv.URL, tc.retries).Generate(context.Background(), "p")
			if !errors.Is(err, ErrGenerationUnavailable) {
				t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tc.wantCalls)
			}
		})
	}
}

func TestOpenAIGeneratorDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestOpenAIGenerator(srv.URL, 3).Generate(ctx, "p")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("generate took %v, deadline not honoured", elapsed)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	if got := retryDelay(200*time.Millisecond, 0); got != 200*time.Millisecond {
		t.Fatalf("attempt 0 = %v", got)
	}
	if got := retryDelay(200*time.Millisecond, 20); got != 5*time.Second {
		t.Fatalf("attempt 20 = %v, want 5s", got)
	}
}
