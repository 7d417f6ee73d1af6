package llm

import (
	"context"
	"errors"
)

// ErrNoMessages is returned when a chat request carries an empty message slice.
var ErrNoMessages = errors.New("llm: chat request has no messages")

// Provider is the model-agnostic interface for LLM operations. Adapters
// (Azure OpenAI, Amazon Bedrock, Gemini, Ollama) implement this interface so
// the interview agent is never coupled to a specific vendor.
type Provider interface {
	// ChatCompletion performs a non-streaming chat completion.
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streaming chat completion. The returned channel
	// yields chunks in order and is always closed by the producer: after the
	// Final chunk, after a terminal Err chunk, or once ctx is cancelled.
	// Callers that stop reading early must cancel ctx so the producer can
	// release the underlying connection.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error)

	// Embed computes a dense vector representation of text.
	Embed(ctx context.Context, text string) (*EmbedResponse, error)

	// EmbedBatch computes embeddings for a batch of texts.
	// Result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([]EmbedResponse, error)

	// ModelInfo returns static metadata about the provider/model.
	ModelInfo() ModelMeta

	// Close releases backend-held connections. Idempotent.
	Close() error
}

// validateChat rejects requests no backend can serve.
func validateChat(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// splitSystem separates an optional leading system message from the rest.
// Backends that take the system prompt out-of-band (Gemini, Bedrock) need it
// split; only the first system message is semantically meaningful.
func splitSystem(messages []Message) (system string, rest []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// streamBuffer is the channel capacity for ChatStream producers. Bounded so a
// slow consumer applies backpressure to the HTTP read loop instead of letting
// chunks pile up in memory.
const streamBuffer = 16
