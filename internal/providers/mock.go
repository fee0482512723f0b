package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	ResponseJSON json.RawMessage

	// ChatFunc, when set, replaces the canned response entirely.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat records req and returns the configured response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	if c.ChatFunc != nil {
		return c.ChatFunc(ctx, req)
	}
	if c.ShouldFail {
		return nil, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return nil, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}
	if err := sleepCtx(ctx, c.Latency); err != nil {
		return nil, err
	}

	result := &ChatResult{
		Content:       c.ResponseText,
		ExecutionTime: time.Since(start),
		Provider:      MockClientName,
		ModelUsed:     req.Model,
		RequestID:     fmt.Sprintf("mock-%d", count),
		Attempts:      1,
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	result.PromptTokens = promptTokens
	result.CompletionTokens = len(c.ResponseText) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	if req.ResponseFormat != nil && len(c.ResponseJSON) > 0 {
		result.ParsedJSON = c.ResponseJSON
		result.Content = string(c.ResponseJSON)
	}
	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.requests...)
}

// Reset clears the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

var _ LLMClient = (*MockClient)(nil)

// MockImageGenerator is an ImageGenerator for testing.
type MockImageGenerator struct {
	Latency    time.Duration
	ShouldFail bool
	// URL is returned for every image; "%d" is replaced by the request number.
	URL string
	// Data, when set, is returned instead of a URL.
	Data []byte

	GenerateFunc func(ctx context.Context, req *ImageRequest) (*ImageResult, error)

	requestCount atomic.Int64
	mu           sync.Mutex
	prompts      []string
}

// NewMockImageGenerator creates a mock that returns numbered URLs.
func NewMockImageGenerator() *MockImageGenerator {
	return &MockImageGenerator{URL: "https://images.example.com/%d.png"}
}

// Name returns the provider identifier.
func (g *MockImageGenerator) Name() string {
	return MockClientName
}

// Generate records the prompt and returns the configured image.
func (g *MockImageGenerator) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	count := g.requestCount.Add(1)

	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()

	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, req)
	}
	if g.ShouldFail {
		return nil, fmt.Errorf("mock image generator configured to fail")
	}
	if err := sleepCtx(ctx, g.Latency); err != nil {
		return nil, err
	}

	result := &ImageResult{
		Provider:  MockClientName,
		ModelUsed: req.Model,
		RequestID: fmt.Sprintf("mock-image-%d", count),
	}
	if len(g.Data) > 0 {
		result.Data = g.Data
		result.ContentType = "image/png"
		return result, nil
	}
	result.URL = g.URL
	if g.URL != "" {
		result.URL = fmt.Sprintf(g.URL, count)
	}
	return result, nil
}

// RequestCount returns the number of requests made.
func (g *MockImageGenerator) RequestCount() int64 {
	return g.requestCount.Load()
}

// Prompts returns every prompt received, in order.
func (g *MockImageGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

var _ ImageGenerator = (*MockImageGenerator)(nil)

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
