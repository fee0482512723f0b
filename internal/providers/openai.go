package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName             = "openai"
	openAIDefaultChatModel = "gpt-4o-mini"
	openAIDefaultImage     = "dall-e-2"
	DefaultImageSize       = "512x512"
)

// OpenAIConfig holds configuration shared by the OpenAI chat and image clients.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // Default model for requests that do not name one
	ImageSize  string        // Image clients only (default "512x512")
	MaxRetries int           // SDK retries (default 3, negative disables)
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

func newOpenAISDK(cfg OpenAIConfig) openai.Client {
	switch {
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

// OpenAIChatClient implements LLMClient using the official OpenAI SDK.
type OpenAIChatClient struct {
	model  string
	client openai.Client
}

// NewOpenAIChatClient creates a new OpenAI chat client.
func NewOpenAIChatClient(cfg OpenAIConfig) *OpenAIChatClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultChatModel
	}
	return &OpenAIChatClient{model: cfg.Model, client: newOpenAISDK(cfg)}
}

// Name returns the client identifier.
func (c *OpenAIChatClient) Name() string {
	return OpenAIName
}

// Chat sends a chat completion request.
func (c *OpenAIChatClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		rf, err := openAIResponseFormat(req.ResponseFormat)
		if err != nil {
			return nil, err
		}
		params.ResponseFormat = rf
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	result := &ChatResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIName,
		ModelUsed:        resp.Model,
		RequestID:        requestID,
		Attempts:         1,
	}
	if req.ResponseFormat != nil && result.Content != "" {
		parsed, err := parseStructuredJSON(result.Content)
		if err != nil {
			return result, fmt.Errorf("failed to parse JSON response: %w", err)
		}
		result.ParsedJSON = parsed
	}
	return result, nil
}

// openAIResponseFormat converts the {"name","strict","schema"} wrapper into
// SDK params.
func openAIResponseFormat(rf *ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	var wrapper struct {
		Name   string `json:"name"`
		Strict bool   `json:"strict"`
		Schema any    `json:"schema"`
	}
	if err := json.Unmarshal(rf.JSONSchema, &wrapper); err != nil {
		return openai.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("invalid response schema: %w", err)
	}
	if wrapper.Name == "" {
		wrapper.Name = "response"
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   wrapper.Name,
				Strict: openai.Bool(wrapper.Strict),
				Schema: wrapper.Schema,
			},
		},
	}, nil
}

// OpenAIImageClient implements ImageGenerator using the OpenAI Images API.
type OpenAIImageClient struct {
	model  string
	size   string
	client openai.Client
}

// NewOpenAIImageClient creates a new OpenAI image client.
func NewOpenAIImageClient(cfg OpenAIConfig) *OpenAIImageClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultImage
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = DefaultImageSize
	}
	return &OpenAIImageClient{model: cfg.Model, size: cfg.ImageSize, client: newOpenAISDK(cfg)}
}

// Name returns the provider identifier.
func (c *OpenAIImageClient) Name() string {
	return OpenAIName
}

// Generate creates one image. Hosted URLs are preferred; models that only
// return base64 get their bytes decoded into Data.
func (c *OpenAIImageClient) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	start := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	size := req.Size
	if size == "" {
		size = c.size
	}

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(model),
		Size:   openai.ImageGenerateParamsSize(size),
		N:      openai.Int(1),
	}
	if supportsURLResponse(model) {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormat("url")
	}

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image in response")
	}

	img := resp.Data[0]
	result := &ImageResult{
		URL:           img.URL,
		RevisedPrompt: img.RevisedPrompt,
		ExecutionTime: time.Since(start),
		Provider:      OpenAIName,
		ModelUsed:     model,
		RequestID:     requestID,
	}
	if result.URL == "" {
		if img.B64JSON == "" {
			return nil, fmt.Errorf("image response has neither url nor data")
		}
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		result.Data = data
		result.ContentType = http.DetectContentType(data)
	}
	return result, nil
}

// supportsURLResponse reports whether the model accepts response_format=url.
// gpt-image models always return base64.
func supportsURLResponse(model string) bool {
	return !strings.HasPrefix(strings.ToLower(model), "gpt-image")
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI error (status %d)", apiErr.StatusCode)
	}
	return err
}

var (
	_ LLMClient      = (*OpenAIChatClient)(nil)
	_ ImageGenerator = (*OpenAIImageClient)(nil)
)
