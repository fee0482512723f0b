package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIChatClient_Chat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization: %s", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini-2024-07-18",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "A fox reads by a lamp."},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18},
		})
	}))
	defer server.Close()

	client := NewOpenAIChatClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "describe page 1"},
		},
		Temperature: 0.7,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != "A fox reads by a lamp." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.PromptTokens != 12 || result.TotalTokens != 18 {
		t.Errorf("tokens = %d/%d", result.PromptTokens, result.TotalTokens)
	}
	if result.Provider != OpenAIName {
		t.Errorf("Provider = %q", result.Provider)
	}

	if got["model"] != openAIDefaultChatModel {
		t.Errorf("model = %v, want %s", got["model"], openAIDefaultChatModel)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestOpenAIChatClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewOpenAIChatClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: -1})
	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	rl, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 4*time.Second {
		t.Errorf("RetryAfter = %v, want 4s", rl.RetryAfter)
	}
}

func TestOpenAIImageClient_Generate(t *testing.T) {
	t.Run("url response", func(t *testing.T) {
		var got map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/images/generations" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"created": 1700000000,
				"data":    []map[string]any{{"url": "https://cdn.example.com/a.png", "revised_prompt": "a fox"}},
			})
		}))
		defer server.Close()

		client := NewOpenAIImageClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.Generate(context.Background(), &ImageRequest{Prompt: "a fox in the style of a children's book illustration"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.URL != "https://cdn.example.com/a.png" {
			t.Errorf("URL = %q", result.URL)
		}
		if result.RevisedPrompt != "a fox" {
			t.Errorf("RevisedPrompt = %q", result.RevisedPrompt)
		}
		if got["size"] != DefaultImageSize {
			t.Errorf("size = %v, want %s", got["size"], DefaultImageSize)
		}
		if got["response_format"] != "url" {
			t.Errorf("response_format = %v", got["response_format"])
		}
	})

	t.Run("base64 response", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\nrest")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var got map[string]any
			json.NewDecoder(r.Body).Decode(&got)
			if _, ok := got["response_format"]; ok {
				t.Errorf("gpt-image request should not set response_format")
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"created": 1700000000,
				"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
			})
		}))
		defer server.Close()

		client := NewOpenAIImageClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-image-1", ImageSize: "1024x1024"})
		result, err := client.Generate(context.Background(), &ImageRequest{Prompt: "a fox"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.URL != "" {
			t.Errorf("URL = %q, want empty", result.URL)
		}
		if string(result.Data) != string(png) {
			t.Errorf("Data = %q", result.Data)
		}
		if result.ContentType != "image/png" {
			t.Errorf("ContentType = %q", result.ContentType)
		}
	})

	t.Run("empty prompt", func(t *testing.T) {
		client := NewOpenAIImageClient(OpenAIConfig{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
		if _, err := client.Generate(context.Background(), &ImageRequest{Prompt: "  "}); err == nil {
			t.Fatal("expected error for empty prompt")
		}
	})

	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"content policy","type":"invalid_request_error"}}`))
		}))
		defer server.Close()

		client := NewOpenAIImageClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: -1})
		_, err := client.Generate(context.Background(), &ImageRequest{Prompt: "a fox"})
		if err == nil {
			t.Fatal("expected error")
		}
		if _, ok := IsRateLimitError(err); ok {
			t.Error("400 should not be a rate limit error")
		}
	})
}

func TestSupportsURLResponse(t *testing.T) {
	tests := map[string]bool{
		"dall-e-2":    true,
		"dall-e-3":    true,
		"gpt-image-1": false,
		"GPT-IMAGE-1": false,
	}
	for model, want := range tests {
		if got := supportsURLResponse(model); got != want {
			t.Errorf("supportsURLResponse(%q) = %v, want %v", model, got, want)
		}
	}
}
