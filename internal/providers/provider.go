package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface for chat/completion requests.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// ImageGenerator turns a text prompt into an image.
type ImageGenerator interface {
	// Generate produces one image for req.Prompt.
	Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error)

	// Name returns the provider identifier (e.g., "openai").
	Name() string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`
}

// ImageRequest asks for one image.
type ImageRequest struct {
	Prompt string `json:"prompt"`

	// Size like "512x512" (uses client default if empty)
	Size string `json:"size,omitempty"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	RequestID string `json:"-"`
}

// ImageResult holds a generated image. Exactly one of URL and Data is set:
// providers either host the image or return its bytes.
type ImageResult struct {
	URL           string `json:"url,omitempty"`
	Data          []byte `json:"-"`
	ContentType   string `json:"content_type,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
}
