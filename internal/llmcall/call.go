// Package llmcall records provider calls made while illustrating pages.
// Every summary and image request is kept with its page, version and
// metrics so a page's illustration can be traced back to the calls that
// produced it.
package llmcall

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/picturebook/internal/providers"
)

// Call kinds.
const (
	KindSummary = "summary"
	KindImage   = "image"
)

// Call represents a recorded provider call.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`
	Kind      string    `json:"kind"`

	// Context references
	BookID  string `json:"book_id,omitempty"`
	Page    int    `json:"page"`
	Version int64  `json:"version"`
	JobID   string `json:"job_id,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Response is the summary text or the image reference.
	Response string `json:"response,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording a call.
type RecordOptions struct {
	BookID  string
	Page    int
	Version int64
	JobID   string
}

func newCall(kind string, opts RecordOptions) *Call {
	return &Call{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Kind:      kind,
		BookID:    opts.BookID,
		Page:      opts.Page,
		Version:   opts.Version,
		JobID:     opts.JobID,
	}
}

// FromChatResult creates a Call from a successful summary.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}
	call := newCall(KindSummary, opts)
	call.LatencyMs = int(result.ExecutionTime.Milliseconds())
	call.Provider = result.Provider
	call.Model = result.ModelUsed
	call.InputTokens = result.PromptTokens
	call.OutputTokens = result.CompletionTokens
	call.Response = result.Content
	call.Success = true
	return call
}

// FromImageResult creates a Call from a generated image and the reference it
// was stored under. Returns nil if result is nil.
func FromImageResult(result *providers.ImageResult, imageRef string, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}
	call := newCall(KindImage, opts)
	call.LatencyMs = int(result.ExecutionTime.Milliseconds())
	call.Provider = result.Provider
	call.Model = result.ModelUsed
	call.Response = imageRef
	call.Success = true
	return call
}

// Failed creates a Call for a request that returned an error.
func Failed(kind, provider string, latency time.Duration, err error, opts RecordOptions) *Call {
	call := newCall(kind, opts)
	call.LatencyMs = int(latency.Milliseconds())
	call.Provider = provider
	if err != nil {
		call.Error = err.Error()
	}
	return call
}

type optionsKey struct{}

// WithOptions attaches recording context to ctx so calls made further down
// are attributed to the right book, page and version.
func WithOptions(ctx context.Context, opts RecordOptions) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFrom returns the recording context attached by WithOptions.
func OptionsFrom(ctx context.Context) RecordOptions {
	opts, _ := ctx.Value(optionsKey{}).(RecordOptions)
	return opts
}
