// Uses httptest.NewServer to mock the Ollama HTTP API, no real Ollama needed.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
}

func TestOllamaProvider_ChatCompletion_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaChatResponse{ //nolint:errcheck
			Model:         req.Model,
			Message:       ollamaChatMessage{Role: "assistant", Content: "Hello from Ollama"},
			DoneReason:    "stop",
			Done:          true,
			PromptEvalCnt: 12,
			EvalCount:     5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2:3b", "nomic-embed-text", fastRetry())
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Content != "Hello from Ollama" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("total tokens = %d, want 17", resp.Usage.TotalTokens)
	}
}

func TestOllamaProvider_ChatCompletion_EmptyMessages_Rejected(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider("http://localhost:1", "m", "e", fastRetry())
	if _, err := p.ChatCompletion(context.Background(), ChatRequest{}); err != ErrNoMessages {
		t.Errorf("expected ErrNoMessages, got %v", err)
	}
}

func TestOllamaProvider_ChatCompletion_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaChatResponse{ //nolint:errcheck
			Message: ollamaChatMessage{Role: "assistant", Content: "ok"}, Done: true, DoneReason: "stop",
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatCompletion failed after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (two 503s retried)", calls)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestOllamaProvider_ChatCompletion_404NotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	if _, err := p.ChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (404 is permanent)", calls)
	}
}

func TestOllamaProvider_ChatStream_ReconstructsFullText(t *testing.T) {
	t.Parallel()

	words := []string{"The ", "quick ", "brown ", "fox"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, word := range words {
			enc.Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: word}}) //nolint:errcheck
		}
		enc.Encode(ollamaChatResponse{Done: true, DoneReason: "stop"}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	ch, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var b strings.Builder
	sawFinal := false
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		b.WriteString(chunk.Content)
		if chunk.Final {
			sawFinal = true
			if chunk.StopReason != "stop" {
				t.Errorf("final stop reason = %q", chunk.StopReason)
			}
		}
	}
	if !sawFinal {
		t.Error("stream ended without a final chunk")
	}
	if got := b.String(); got != "The quick brown fox" {
		t.Errorf("reconstructed = %q", got)
	}
}

func TestOllamaProvider_ChatStream_TruncatedStream_YieldsErrChunk(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Two content lines, then connection ends without done=true.
		fmt.Fprintln(w, `{"message":{"content":"partial "}}`)
		fmt.Fprintln(w, `{"message":{"content":"answer"}}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	ch, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var last ChatChunk
	for chunk := range ch {
		last = chunk
	}
	if last.Err == nil {
		t.Error("expected a terminal Err chunk for truncated stream")
	}
}

func TestOllamaProvider_ChatStream_EarlyCancel_DrainsWithoutLeak(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 10000; i++ {
			fmt.Fprintln(w, `{"message":{"content":"x"}}`)
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			default:
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	ch, err := p.ChatStream(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	<-ch // read one chunk, then walk away
	cancel()

	// The producer must close the channel after cancellation.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("producer did not close the channel after cancel")
		}
	}
}

func TestOllamaProvider_Embed_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "nomic-embed-text", fastRetry())
	resp, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(resp.Embedding) != 3 {
		t.Errorf("dims = %d, want 3", len(resp.Embedding))
	}
	if resp.Model != "nomic-embed-text" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestOllamaProvider_EmbedBatch_OneCallPerText(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.5}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "e", fastRetry())
	resps, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (one per text)", calls)
	}
	if len(resps) != 3 {
		t.Errorf("len(resps) = %d, want 3", len(resps))
	}
}

func TestOllamaProvider_Close_Idempotent(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider("http://localhost:1", "m", "e", fastRetry())
	if err := p.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
