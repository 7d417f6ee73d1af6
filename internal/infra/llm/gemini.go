// Gemini API adapter ("gcp" provider tag), x-goog-api-key header auth.
// Endpoints used on https://generativelanguage.googleapis.com/v1beta:
//   - POST /models/{model}:generateContent
//   - POST /models/{model}:streamGenerateContent?alt=sse
//   - POST /models/{embedModel}:embedContent
//   - POST /models/{embedModel}:batchEmbedContents
//
// Gemini takes the system prompt out-of-band (system_instruction) and names
// the assistant role "model"; the SSE stream has no [DONE] sentinel; the
// final chunk carries finishReason.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider against the Gemini API.
type GeminiProvider struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	retry      RetryPolicy
	httpClient *http.Client
	streamHTTP *http.Client
	closeOnce  sync.Once
}

// NewGeminiProvider creates a GeminiProvider.
func NewGeminiProvider(apiKey, model, embedModel string, retry RetryPolicy) *GeminiProvider {
	return &GeminiProvider{
		baseURL:    geminiDefaultBaseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		retry:      retry,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		streamHTTP: &http.Client{},
	}
}

// ─── wire types ──────────────────────────────────────────────────────────────

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model,omitempty"`
	Content geminiContent `json:"content"`
}

type geminiEmbedding struct {
	Values []float32 `json:"values"`
}

type geminiEmbedResponse struct {
	Embedding geminiEmbedding `json:"embedding"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbedding `json:"embeddings"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

// ChatCompletion performs a non-streaming generateContent call.
func (p *GeminiProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.generateRequest(req))
	if err != nil {
		return nil, permanentErr("gcp", "chat", err)
	}

	var out *ChatResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.modelURL(p.chatModel(req), "generateContent"), "chat", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var gresp geminiGenerateResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&gresp); decodeErr != nil {
			return permanentErr("gcp", "chat", fmt.Errorf("decode response: %w", decodeErr))
		}
		if len(gresp.Candidates) == 0 {
			return permanentErr("gcp", "chat", fmt.Errorf("response has no candidates"))
		}
		out = &ChatResponse{
			Content:    joinParts(gresp.Candidates[0].Content.Parts),
			Model:      gresp.ModelVersion,
			StopReason: strings.ToLower(gresp.Candidates[0].FinishReason),
			Usage: Usage{
				PromptTokens:     gresp.UsageMetadata.PromptTokenCount,
				CompletionTokens: gresp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      gresp.UsageMetadata.TotalTokenCount,
			},
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// ChatStream performs a streaming generateContent call over SSE.
func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.generateRequest(req))
	if err != nil {
		return nil, permanentErr("gcp", "chat_stream", err)
	}

	url := p.modelURL(p.chatModel(req), "streamGenerateContent") + "?alt=sse"
	var respBody io.ReadCloser
	doErr := p.retry.Do(ctx, func() error {
		rb, postErr := p.doPost(ctx, p.streamHTTP, url, "chat_stream", body)
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
	go p.readSSE(ctx, respBody, ch)
	return ch, nil
}

func (p *GeminiProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- ChatChunk) {
	defer close(ch)
	defer body.Close()

	finalSent := false
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := sseData(scanner.Text())
		if !ok {
			continue
		}
		var gresp geminiGenerateResponse
		if err := json.Unmarshal([]byte(data), &gresp); err != nil {
			emit(ctx, ch, ChatChunk{Err: permanentErr("gcp", "chat_stream", err)})
			return
		}
		if len(gresp.Candidates) == 0 {
			continue
		}
		out := ChatChunk{Content: joinParts(gresp.Candidates[0].Content.Parts)}
		if reason := gresp.Candidates[0].FinishReason; reason != "" {
			out.Final = true
			out.StopReason = strings.ToLower(reason)
			finalSent = true
		}
		if !emit(ctx, ch, out) {
			return
		}
		if out.Final {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, ch, ChatChunk{Err: networkErr("gcp", "chat_stream", err)})
		return
	}
	if !finalSent {
		emit(ctx, ch, ChatChunk{Err: networkErr("gcp", "chat_stream", io.ErrUnexpectedEOF)})
	}
}

// Embed computes one embedding via embedContent.
func (p *GeminiProvider) Embed(ctx context.Context, text string) (*EmbedResponse, error) {
	body, err := json.Marshal(geminiEmbedRequest{
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	})
	if err != nil {
		return nil, permanentErr("gcp", "embed", err)
	}

	var out *EmbedResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.modelURL(p.embedModel, "embedContent"), "embed", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var gresp geminiEmbedResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&gresp); decodeErr != nil {
			return permanentErr("gcp", "embed", fmt.Errorf("decode response: %w", decodeErr))
		}
		out = &EmbedResponse{Embedding: gresp.Embedding.Values, Model: p.embedModel}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// EmbedBatch computes embeddings for a batch in a single batchEmbedContents call.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([]EmbedResponse, error) {
	if len(texts) == 0 {
		return []EmbedResponse{}, nil
	}

	reqs := make([]geminiEmbedRequest, len(texts))
	for i, text := range texts {
		reqs[i] = geminiEmbedRequest{
			Model:   "models/" + p.embedModel,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}
	}
	body, err := json.Marshal(geminiBatchEmbedRequest{Requests: reqs})
	if err != nil {
		return nil, permanentErr("gcp", "embed", err)
	}

	var out []EmbedResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.modelURL(p.embedModel, "batchEmbedContents"), "embed", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var gresp geminiBatchEmbedResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&gresp); decodeErr != nil {
			return permanentErr("gcp", "embed", fmt.Errorf("decode response: %w", decodeErr))
		}
		if len(gresp.Embeddings) != len(texts) {
			return permanentErr("gcp", "embed", fmt.Errorf("got %d embeddings for %d inputs", len(gresp.Embeddings), len(texts)))
		}
		out = make([]EmbedResponse, len(gresp.Embeddings))
		for i, e := range gresp.Embeddings {
			out[i] = EmbedResponse{Embedding: e.Values, Model: p.embedModel}
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// ModelInfo returns static metadata for this provider/model.
func (p *GeminiProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: "gcp", MaxTokens: 1048576}
}

// Close releases pooled connections. Idempotent.
func (p *GeminiProvider) Close() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
		p.streamHTTP.CloseIdleConnections()
	})
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *GeminiProvider) chatModel(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *GeminiProvider) generateRequest(req ChatRequest) geminiGenerateRequest {
	system, rest := splitSystem(req.Messages)

	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	out := geminiGenerateRequest{Contents: contents}
	if system != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out
}

func (p *GeminiProvider) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.baseURL, model, method)
}

func (p *GeminiProvider) doPost(ctx context.Context, client *http.Client, url, op string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("gcp", op, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr("gcp", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, statusErr("gcp", op, resp.StatusCode, string(msg))
	}
	return resp.Body, nil
}

func joinParts(parts []geminiPart) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
