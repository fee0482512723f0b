// Package illustrate turns story text into page illustrations: a chat model
// describes the scene on the last page, then an image model draws it.
package illustrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/picturebook/internal/llmcall"
	"github.com/jackzampolin/picturebook/internal/providers"
)

// ErrPipeline wraps every failure of the external summary or image calls.
var ErrPipeline = errors.New("illustration pipeline failed")

// Config configures a Service.
type Config struct {
	// Registry resolves providers by name on every call, so a config reload
	// takes effect without restarting the service.
	Registry *providers.Registry

	LLMProvider   string
	ImageProvider string

	// Model and ImageModel override the providers' defaults when set.
	Model       string
	ImageModel  string
	ImageSize   string
	Temperature float64
	MaxTokens   int

	// Structured asks the model for a JSON object validated against a schema
	// instead of free text.
	Structured bool

	// Images stores base64 results. Required when the image provider does not
	// host its images.
	Images ImageStore

	Recorder llmcall.Recorder
	Logger   *slog.Logger
}

// Service implements the summarize and generate-image steps.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.LLMProvider == "" {
		return nil, fmt.Errorf("LLM provider name is required")
	}
	if cfg.ImageProvider == "" {
		return nil, fmt.Errorf("image provider name is required")
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = providers.DefaultImageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger.With("component", "illustrate")}, nil
}

// Summarize asks the chat model to describe the scene on page numPages of
// story, for an illustrator who has not read the book.
func (s *Service) Summarize(ctx context.Context, story string, numPages int) (string, error) {
	opts := llmcall.OptionsFrom(ctx)
	start := time.Now()

	client, err := s.cfg.Registry.GetLLM(s.cfg.LLMProvider)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPipeline, err)
	}

	req := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: SystemPrompt()},
			{Role: providers.RoleUser, Content: ScenePrompt(story, numPages)},
		},
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		RequestID:   opts.JobID,
	}

	var (
		result      *providers.ChatResult
		description string
	)
	if s.cfg.Structured {
		req.ResponseFormat = &providers.ResponseFormat{Type: "json_schema", JSONSchema: json.RawMessage(sceneSchema)}
		var out struct {
			Description string `json:"description"`
		}
		result, err = providers.ChatStructured(ctx, client, req, &out)
		description = out.Description
	} else {
		result, err = client.Chat(ctx, req)
		if result != nil {
			description = result.Content
		}
	}
	if err != nil {
		s.record(llmcall.Failed(llmcall.KindSummary, client.Name(), time.Since(start), err, opts))
		return "", fmt.Errorf("%w: summarize: %w", ErrPipeline, err)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		err := errors.New("empty scene description")
		s.record(llmcall.Failed(llmcall.KindSummary, client.Name(), time.Since(start), err, opts))
		return "", fmt.Errorf("%w: summarize: %w", ErrPipeline, err)
	}

	s.record(llmcall.FromChatResult(result, opts))
	s.logger.Debug("scene summarized",
		"book_id", opts.BookID, "page", opts.Page, "version", opts.Version,
		"provider", result.Provider, "tokens", result.TotalTokens)
	return description, nil
}

// GenerateImage draws prompt and returns a reference to the image: the
// provider's URL, or the stored location of returned bytes.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (string, error) {
	opts := llmcall.OptionsFrom(ctx)
	start := time.Now()

	gen, err := s.cfg.Registry.GetImage(s.cfg.ImageProvider)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPipeline, err)
	}

	result, err := gen.Generate(ctx, &providers.ImageRequest{
		Prompt:    prompt,
		Size:      s.cfg.ImageSize,
		Model:     s.cfg.ImageModel,
		RequestID: opts.JobID,
	})
	if err != nil {
		s.record(llmcall.Failed(llmcall.KindImage, gen.Name(), time.Since(start), err, opts))
		return "", fmt.Errorf("%w: generate image: %w", ErrPipeline, err)
	}

	ref := result.URL
	if ref == "" {
		if len(result.Data) == 0 {
			err = errors.New("provider returned no image")
		} else if s.cfg.Images == nil {
			err = errors.New("no image store configured for inline image data")
		} else {
			ref, err = s.cfg.Images.Save(ctx, result.Data, result.ContentType)
		}
		if err != nil {
			s.record(llmcall.Failed(llmcall.KindImage, gen.Name(), time.Since(start), err, opts))
			return "", fmt.Errorf("%w: store image: %w", ErrPipeline, err)
		}
	}

	s.record(llmcall.FromImageResult(result, ref, opts))
	return ref, nil
}

func (s *Service) record(call *llmcall.Call) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Record(call)
	}
}
