// Ollama HTTP adapter ("local" provider tag).
// Endpoints used:
//   - POST /api/chat        chat completion, NDJSON stream when stream=true
//   - POST /api/embeddings  single text embedding
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// OllamaProvider implements Provider against a running Ollama instance.
type OllamaProvider struct {
	baseURL    string
	model      string
	embedModel string
	retry      RetryPolicy
	httpClient *http.Client
	streamHTTP *http.Client
	closeOnce  sync.Once
}

// NewOllamaProvider creates an OllamaProvider. Unary calls use a 30s timeout;
// the streaming client has no overall deadline and relies on ctx cancellation.
func NewOllamaProvider(baseURL, model, embedModel string, retry RetryPolicy) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		retry:      retry,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		streamHTTP: &http.Client{},
	}
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model         string            `json:"model"`
	Message       ollamaChatMessage `json:"message"`
	DoneReason    string            `json:"done_reason"`
	Done          bool              `json:"done"`
	PromptEvalCnt int               `json:"prompt_eval_count"`
	EvalCount     int               `json:"eval_count"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

// ChatCompletion performs a non-streaming chat via POST /api/chat.
func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, false))
	if err != nil {
		return nil, permanentErr("local", "chat", err)
	}

	var out *ChatResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, "/api/chat", "chat", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var oresp ollamaChatResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&oresp); decodeErr != nil {
			return permanentErr("local", "chat", fmt.Errorf("decode response: %w", decodeErr))
		}
		out = &ChatResponse{
			Content:    oresp.Message.Content,
			Model:      oresp.Model,
			StopReason: oresp.DoneReason,
			Usage: Usage{
				PromptTokens:     oresp.PromptEvalCnt,
				CompletionTokens: oresp.EvalCount,
				TotalTokens:      oresp.PromptEvalCnt + oresp.EvalCount,
			},
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// ChatStream performs a streaming chat via POST /api/chat with stream=true.
// Ollama answers with newline-delimited JSON objects, the last carrying done=true.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, true))
	if err != nil {
		return nil, permanentErr("local", "chat_stream", err)
	}

	// Retry covers opening the stream; once bytes flow, failures surface as a
	// terminal Err chunk instead.
	var respBody io.ReadCloser
	doErr := p.retry.Do(ctx, func() error {
		rb, postErr := p.doPost(ctx, p.streamHTTP, "/api/chat", "chat_stream", body)
		if postErr != nil {
			return postErr
		}
		respBody = rb
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}

	ch := make(chan ChatChunk, streamBuffer)
	go func() {
		defer close(ch)
		defer respBody.Close()

		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var oresp ollamaChatResponse
			if decodeErr := json.Unmarshal(line, &oresp); decodeErr != nil {
				emit(ctx, ch, ChatChunk{Err: permanentErr("local", "chat_stream", decodeErr)})
				return
			}
			chunk := ChatChunk{Content: oresp.Message.Content}
			if oresp.Done {
				chunk.Final = true
				chunk.StopReason = oresp.DoneReason
			}
			if !emit(ctx, ch, chunk) {
				return
			}
			if oresp.Done {
				return
			}
		}
		if scanErr := scanner.Err(); scanErr != nil {
			emit(ctx, ch, ChatChunk{Err: networkErr("local", "chat_stream", scanErr)})
			return
		}
		// Stream ended without a done marker.
		emit(ctx, ch, ChatChunk{Err: networkErr("local", "chat_stream", io.ErrUnexpectedEOF)})
	}()
	return ch, nil
}

// Embed computes one embedding via POST /api/embeddings.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (*EmbedResponse, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.embedModel, Prompt: text})
	if err != nil {
		return nil, permanentErr("local", "embed", err)
	}

	var out *EmbedResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, "/api/embeddings", "embed", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var oresp ollamaEmbedResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&oresp); decodeErr != nil {
			return permanentErr("local", "embed", fmt.Errorf("decode response: %w", decodeErr))
		}
		out = &EmbedResponse{Embedding: oresp.Embedding, Model: p.embedModel}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// EmbedBatch embeds each text with one call per text; Ollama's embeddings
// endpoint does not support batching.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]EmbedResponse, error) {
	out := make([]EmbedResponse, 0, len(texts))
	for _, text := range texts {
		resp, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, nil
}

// ModelInfo returns static metadata for this provider/model.
func (p *OllamaProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: "local", MaxTokens: 4096}
}

// Close releases pooled connections. Idempotent.
func (p *OllamaProvider) Close() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
		p.streamHTTP.CloseIdleConnections()
	})
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *OllamaProvider) chatRequest(req ChatRequest, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := make([]ollamaChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	return ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Options:  buildChatOptions(req),
	}
}

// buildChatOptions converts ChatRequest fields into the Ollama options map.
func buildChatOptions(req ChatRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// doPost sends a POST to baseURL+path and returns the response body.
// Caller is responsible for closing the returned ReadCloser.
func (p *OllamaProvider) doPost(ctx context.Context, client *http.Client, path, op string, body []byte) (io.ReadCloser, error) {
	url := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("local", op, err)
	}
	req.Header.Set(headerContentType, mimeJSON)

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr("local", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, statusErr("local", op, resp.StatusCode, string(msg))
	}
	return resp.Body, nil
}

// emit sends a chunk unless ctx is done. Returns false when the consumer has
// gone away, so producers stop reading the backend.
func emit(ctx context.Context, ch chan<- ChatChunk, chunk ChatChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
