// Azure OpenAI adapter ("azure" provider tag).
// Endpoints used (deployment-scoped, api-key header auth):
//   - POST /openai/deployments/{deployment}/chat/completions?api-version=...
//   - POST /openai/deployments/{embed}/embeddings?api-version=...
//
// Streaming uses server-sent events terminated by a "data: [DONE]" sentinel.
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

// AzureProvider implements Provider against an Azure OpenAI resource.
type AzureProvider struct {
	endpoint        string
	apiKey          string
	deployment      string
	embedDeployment string
	apiVersion      string
	retry           RetryPolicy
	httpClient      *http.Client
	streamHTTP      *http.Client
	closeOnce       sync.Once
}

// NewAzureProvider creates an AzureProvider.
func NewAzureProvider(endpoint, apiKey, deployment, embedDeployment, apiVersion string, retry RetryPolicy) *AzureProvider {
	return &AzureProvider{
		endpoint:        strings.TrimRight(endpoint, "/"),
		apiKey:          apiKey,
		deployment:      deployment,
		embedDeployment: embedDeployment,
		apiVersion:      apiVersion,
		retry:           retry,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		streamHTTP:      &http.Client{},
	}
}

// ─── wire types (OpenAI chat completions schema) ─────────────────────────────

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type oaiChatRequest struct {
	Messages    []oaiMessage `json:"messages"`
	Temperature float32      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
	Model       string       `json:"model,omitempty"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage oaiUsage `json:"usage"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type oaiEmbedRequest struct {
	Input []string `json:"input"`
}

type oaiEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage oaiUsage `json:"usage"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

// ChatCompletion performs a non-streaming chat completion.
func (p *AzureProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, false))
	if err != nil {
		return nil, permanentErr("azure", "chat", err)
	}

	var out *ChatResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.chatURL(), "chat", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var oresp oaiChatResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&oresp); decodeErr != nil {
			return permanentErr("azure", "chat", fmt.Errorf("decode response: %w", decodeErr))
		}
		if len(oresp.Choices) == 0 {
			return permanentErr("azure", "chat", fmt.Errorf("response has no choices"))
		}
		out = &ChatResponse{
			Content:    oresp.Choices[0].Message.Content,
			Model:      oresp.Model,
			StopReason: oresp.Choices[0].FinishReason,
			Usage: Usage{
				PromptTokens:     oresp.Usage.PromptTokens,
				CompletionTokens: oresp.Usage.CompletionTokens,
				TotalTokens:      oresp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// ChatStream performs a streaming chat completion over SSE.
func (p *AzureProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, true))
	if err != nil {
		return nil, permanentErr("azure", "chat_stream", err)
	}

	var respBody io.ReadCloser
	doErr := p.retry.Do(ctx, func() error {
		rb, postErr := p.doPost(ctx, p.streamHTTP, p.chatURL(), "chat_stream", body)
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

// readSSE decodes "data: {...}" events until [DONE] or a finish_reason.
func (p *AzureProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- ChatChunk) {
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
		if data == "[DONE]" {
			if !finalSent {
				// Terminator arrived without an explicit finish_reason chunk.
				emit(ctx, ch, ChatChunk{Final: true, StopReason: "stop"})
			}
			return
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			emit(ctx, ch, ChatChunk{Err: permanentErr("azure", "chat_stream", err)})
			return
		}
		// Azure's first event may carry content-filter results with no choices.
		if len(chunk.Choices) == 0 {
			continue
		}
		out := ChatChunk{Content: chunk.Choices[0].Delta.Content}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			out.Final = true
			out.StopReason = reason
			finalSent = true
		}
		if !emit(ctx, ch, out) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, ch, ChatChunk{Err: networkErr("azure", "chat_stream", err)})
		return
	}
	if !finalSent {
		emit(ctx, ch, ChatChunk{Err: networkErr("azure", "chat_stream", io.ErrUnexpectedEOF)})
	}
}

// Embed computes one embedding.
func (p *AzureProvider) Embed(ctx context.Context, text string) (*EmbedResponse, error) {
	resps, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return &resps[0], nil
}

// EmbedBatch computes embeddings for a batch in a single call.
func (p *AzureProvider) EmbedBatch(ctx context.Context, texts []string) ([]EmbedResponse, error) {
	if len(texts) == 0 {
		return []EmbedResponse{}, nil
	}

	body, err := json.Marshal(oaiEmbedRequest{Input: texts})
	if err != nil {
		return nil, permanentErr("azure", "embed", err)
	}

	var out []EmbedResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.embedURL(), "embed", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var oresp oaiEmbedResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&oresp); decodeErr != nil {
			return permanentErr("azure", "embed", fmt.Errorf("decode response: %w", decodeErr))
		}
		if len(oresp.Data) != len(texts) {
			return permanentErr("azure", "embed", fmt.Errorf("got %d embeddings for %d inputs", len(oresp.Data), len(texts)))
		}
		out = make([]EmbedResponse, len(oresp.Data))
		for i, d := range oresp.Data {
			out[i] = EmbedResponse{
				Embedding: d.Embedding,
				Model:     oresp.Model,
				Usage: Usage{
					PromptTokens: oresp.Usage.PromptTokens,
					TotalTokens:  oresp.Usage.TotalTokens,
				},
			}
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// ModelInfo returns static metadata for this provider/deployment.
func (p *AzureProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.deployment, Provider: "azure", MaxTokens: 128000}
}

// Close releases pooled connections. Idempotent.
func (p *AzureProvider) Close() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
		p.streamHTTP.CloseIdleConnections()
	})
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *AzureProvider) chatRequest(req ChatRequest, stream bool) oaiChatRequest {
	msgs := make([]oaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = oaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	return oaiChatRequest{
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Model:       req.Model,
	}
}

func (p *AzureProvider) chatURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, p.deployment, p.apiVersion)
}

func (p *AzureProvider) embedURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		p.endpoint, p.embedDeployment, p.apiVersion)
}

func (p *AzureProvider) doPost(ctx context.Context, client *http.Client, url, op string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("azure", op, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("api-key", p.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr("azure", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, statusErr("azure", op, resp.StatusCode, string(msg))
	}
	return resp.Body, nil
}

// sseData extracts the payload of a "data:" SSE line. Blank lines and other
// fields (event:, id:) yield ok=false.
func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
