// Amazon Bedrock adapter ("aws" provider tag), using a Bedrock API key
// (bearer token); no SigV4 signing required.
// Endpoints used on https://bedrock-runtime.{region}.amazonaws.com:
//   - POST /openai/v1/chat/completions      OpenAI-compatible chat, SSE stream
//   - POST /model/{embedModelId}/invoke     Titan text embeddings
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// BedrockProvider implements Provider against the Amazon Bedrock runtime.
type BedrockProvider struct {
	baseURL      string
	apiKey       string
	modelID      string
	embedModelID string
	retry        RetryPolicy
	httpClient   *http.Client
	streamHTTP   *http.Client
	closeOnce    sync.Once
}

// NewBedrockProvider creates a BedrockProvider for the given region.
func NewBedrockProvider(region, apiKey, modelID, embedModelID string, retry RetryPolicy) *BedrockProvider {
	return &BedrockProvider{
		baseURL:      fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region),
		apiKey:       apiKey,
		modelID:      modelID,
		embedModelID: embedModelID,
		retry:        retry,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		streamHTTP:   &http.Client{},
	}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// ChatCompletion performs a non-streaming chat completion through Bedrock's
// OpenAI-compatible endpoint.
func (p *BedrockProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, false))
	if err != nil {
		return nil, permanentErr("aws", "chat", err)
	}

	var out *ChatResponse
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, p.baseURL+"/openai/v1/chat/completions", "chat", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var oresp oaiChatResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&oresp); decodeErr != nil {
			return permanentErr("aws", "chat", fmt.Errorf("decode response: %w", decodeErr))
		}
		if len(oresp.Choices) == 0 {
			return permanentErr("aws", "chat", fmt.Errorf("response has no choices"))
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
func (p *BedrockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.chatRequest(req, true))
	if err != nil {
		return nil, permanentErr("aws", "chat_stream", err)
	}

	var respBody io.ReadCloser
	doErr := p.retry.Do(ctx, func() error {
		rb, postErr := p.doPost(ctx, p.streamHTTP, p.baseURL+"/openai/v1/chat/completions", "chat_stream", body)
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

func (p *BedrockProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- ChatChunk) {
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
				emit(ctx, ch, ChatChunk{Final: true, StopReason: "stop"})
			}
			return
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			emit(ctx, ch, ChatChunk{Err: permanentErr("aws", "chat_stream", err)})
			return
		}
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
		emit(ctx, ch, ChatChunk{Err: networkErr("aws", "chat_stream", err)})
		return
	}
	if !finalSent {
		emit(ctx, ch, ChatChunk{Err: networkErr("aws", "chat_stream", io.ErrUnexpectedEOF)})
	}
}

// Embed computes one embedding via the Titan invoke endpoint.
func (p *BedrockProvider) Embed(ctx context.Context, text string) (*EmbedResponse, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, permanentErr("aws", "embed", err)
	}

	var out *EmbedResponse
	invokeURL := fmt.Sprintf("%s/model/%s/invoke", p.baseURL, url.PathEscape(p.embedModelID))
	doErr := p.retry.Do(ctx, func() error {
		respBody, postErr := p.doPost(ctx, p.httpClient, invokeURL, "embed", body)
		if postErr != nil {
			return postErr
		}
		defer respBody.Close()

		var tresp titanEmbedResponse
		if decodeErr := json.NewDecoder(respBody).Decode(&tresp); decodeErr != nil {
			return permanentErr("aws", "embed", fmt.Errorf("decode response: %w", decodeErr))
		}
		out = &EmbedResponse{
			Embedding: tresp.Embedding,
			Model:     p.embedModelID,
			Usage:     Usage{PromptTokens: tresp.InputTextTokenCount, TotalTokens: tresp.InputTextTokenCount},
		}
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// EmbedBatch embeds each text with one invoke per text; Titan embeddings take
// a single inputText.
func (p *BedrockProvider) EmbedBatch(ctx context.Context, texts []string) ([]EmbedResponse, error) {
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
func (p *BedrockProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.modelID, Provider: "aws", MaxTokens: 200000}
}

// Close releases pooled connections. Idempotent.
func (p *BedrockProvider) Close() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
		p.streamHTTP.CloseIdleConnections()
	})
	return nil
}

func (p *BedrockProvider) chatRequest(req ChatRequest, stream bool) oaiChatRequest {
	model := req.Model
	if model == "" {
		model = p.modelID
	}
	msgs := make([]oaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = oaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	return oaiChatRequest{
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Model:       model,
	}
}

func (p *BedrockProvider) doPost(ctx context.Context, client *http.Client, url, op string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("aws", op, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr("aws", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, statusErr("aws", op, resp.StatusCode, string(msg))
	}
	return resp.Body, nil
}
