// Package llm defines the model-agnostic LLM provider abstraction.
// All types here are shared between the provider interface and adapters.
package llm

// Message roles. Backends vary in system-message support; adapters map the
// leading system message to whatever their wire format expects.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
	Name    string // optional speaker name, backend-dependent
}

// ChatRequest is the input for a chat completion, streaming or not.
type ChatRequest struct {
	// Model overrides the provider default when non-empty.
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Usage counts tokens consumed by one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the output from a non-streaming chat completion.
type ChatResponse struct {
	Content    string
	Model      string
	StopReason string // "stop" | "length" | backend-specific
	Usage      Usage
}

// ChatChunk is one element of a streamed completion. Chunks arrive in order;
// concatenating Content across the sequence reconstructs the full response.
// The last chunk has Final=true. A non-nil Err is terminal: no further chunks
// follow and the concatenated content so far is incomplete.
type ChatChunk struct {
	Content    string
	StopReason string
	Final      bool
	Err        error
}

// EmbedResponse is the output of an embedding call. Embedding has a fixed
// dimensionality per model.
type EmbedResponse struct {
	Embedding []float32
	Model     string
	Usage     Usage
}

// ModelMeta describes the model / provider identity.
type ModelMeta struct {
	ID        string // e.g. "gpt-4o", "llama3.2:3b"
	Provider  string // "azure" | "aws" | "gcp" | "local"
	MaxTokens int    // maximum context window size
}
