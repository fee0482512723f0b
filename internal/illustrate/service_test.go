package illustrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/picturebook/internal/llmcall"
	"github.com/jackzampolin/picturebook/internal/providers"
)

func newTestService(t *testing.T, llm *providers.MockClient, gen *providers.MockImageGenerator, mutate func(*Config)) (*Service, *llmcall.Log) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.RegisterLLM("llm", llm)
	reg.RegisterImage("img", gen)
	calls := llmcall.NewLog(10)

	cfg := Config{
		Registry:      reg,
		LLMProvider:   "llm",
		ImageProvider: "img",
		Recorder:      calls,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, calls
}

func TestScenePrompt(t *testing.T) {
	got := ScenePrompt("A fox found a key.\n\nThe key opened a door.", 2)

	for _, want := range []string{
		"\nI'm going to tell you a story. Each paragraph is a page in a children's book.\n",
		"There are 2 paragraphs in total, representing 2 pages.",
		"Here is that story:\n\nA fox found a key.\n\nThe key opened a door.\n\n",
		"on\non page 2 so that an illustrator can draw it?",
		"characters in this scene so that the illustrator can accurately\nrepresent them.\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, got)
		}
	}
	if !strings.HasPrefix(got, "\n") {
		t.Error("prompt should start with a blank line")
	}
}

func TestImagePrompt(t *testing.T) {
	got := ImagePrompt("A fox holds a golden key")
	if got != "A fox holds a golden key in the style of a children's book illustration" {
		t.Errorf("ImagePrompt() = %q", got)
	}
}

func TestService_Summarize(t *testing.T) {
	llm := providers.NewMockClient()
	llm.ResponseText = "  A small red fox holds a shiny key.  "
	svc, calls := newTestService(t, llm, providers.NewMockImageGenerator(), nil)

	ctx := llmcall.WithOptions(context.Background(), llmcall.RecordOptions{BookID: "b1", Page: 1, Version: 3})
	desc, err := svc.Summarize(ctx, "page one\n\npage two", 2)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if desc != "A small red fox holds a shiny key." {
		t.Errorf("description = %q", desc)
	}

	reqs := llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if msgs[0].Role != providers.RoleSystem || msgs[0].Content != SystemPrompt() {
		t.Errorf("system message = %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "page one\n\npage two") {
		t.Errorf("user message missing story: %q", msgs[1].Content)
	}

	recorded := calls.Recent(llmcall.QueryFilter{})
	if len(recorded) != 1 || recorded[0].Kind != llmcall.KindSummary || recorded[0].Version != 3 {
		t.Errorf("recorded calls = %+v", recorded)
	}
}

func TestService_SummarizeStructured(t *testing.T) {
	llm := providers.NewMockClient()
	llm.ResponseJSON = []byte(`{"description":"A bear rows a boat."}`)
	svc, _ := newTestService(t, llm, providers.NewMockImageGenerator(), func(c *Config) { c.Structured = true })

	desc, err := svc.Summarize(context.Background(), "story", 1)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if desc != "A bear rows a boat." {
		t.Errorf("description = %q", desc)
	}
	if llm.Requests()[0].ResponseFormat == nil {
		t.Error("structured summary sent no response format")
	}
}

func TestService_Errors(t *testing.T) {
	t.Run("llm failure", func(t *testing.T) {
		llm := providers.NewMockClient()
		llm.ShouldFail = true
		svc, calls := newTestService(t, llm, providers.NewMockImageGenerator(), nil)

		_, err := svc.Summarize(context.Background(), "story", 1)
		if !errors.Is(err, ErrPipeline) {
			t.Fatalf("err = %v, want ErrPipeline", err)
		}
		if got := calls.Recent(llmcall.QueryFilter{}); len(got) != 1 || got[0].Success {
			t.Errorf("failure not recorded: %+v", got)
		}
	})

	t.Run("empty description", func(t *testing.T) {
		llm := providers.NewMockClient()
		llm.ResponseText = "   "
		svc, _ := newTestService(t, llm, providers.NewMockImageGenerator(), nil)
		if _, err := svc.Summarize(context.Background(), "story", 1); !errors.Is(err, ErrPipeline) {
			t.Fatalf("err = %v, want ErrPipeline", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc, _ := newTestService(t, providers.NewMockClient(), providers.NewMockImageGenerator(), func(c *Config) {
			c.ImageProvider = "missing"
		})
		if _, err := svc.GenerateImage(context.Background(), "a fox"); !errors.Is(err, ErrPipeline) {
			t.Fatalf("err = %v, want ErrPipeline", err)
		}
	})

	t.Run("image failure", func(t *testing.T) {
		gen := providers.NewMockImageGenerator()
		gen.ShouldFail = true
		svc, _ := newTestService(t, providers.NewMockClient(), gen, nil)
		if _, err := svc.GenerateImage(context.Background(), "a fox"); !errors.Is(err, ErrPipeline) {
			t.Fatalf("err = %v, want ErrPipeline", err)
		}
	})

	t.Run("inline data without store", func(t *testing.T) {
		gen := providers.NewMockImageGenerator()
		gen.Data = []byte("png")
		svc, _ := newTestService(t, providers.NewMockClient(), gen, nil)
		if _, err := svc.GenerateImage(context.Background(), "a fox"); !errors.Is(err, ErrPipeline) {
			t.Fatalf("err = %v, want ErrPipeline", err)
		}
	})
}

func TestService_GenerateImage(t *testing.T) {
	t.Run("hosted url", func(t *testing.T) {
		gen := providers.NewMockImageGenerator()
		svc, _ := newTestService(t, providers.NewMockClient(), gen, func(c *Config) { c.ImageSize = "256x256" })

		ref, err := svc.GenerateImage(context.Background(), "a fox in the style of a children's book illustration")
		if err != nil {
			t.Fatalf("GenerateImage() error = %v", err)
		}
		if ref != "https://images.example.com/1.png" {
			t.Errorf("ref = %q", ref)
		}
		if got := gen.Prompts(); len(got) != 1 || !strings.HasSuffix(got[0], StyleSuffix) {
			t.Errorf("prompts = %v", got)
		}
	})

	t.Run("inline data is stored", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewDirStore(dir, "/images")
		if err != nil {
			t.Fatal(err)
		}
		gen := providers.NewMockImageGenerator()
		gen.Data = []byte("\x89PNG fake")
		svc, calls := newTestService(t, providers.NewMockClient(), gen, func(c *Config) { c.Images = store })

		ref, err := svc.GenerateImage(context.Background(), "a fox")
		if err != nil {
			t.Fatalf("GenerateImage() error = %v", err)
		}
		if !strings.HasPrefix(ref, "/images/") || !strings.HasSuffix(ref, ".png") {
			t.Fatalf("ref = %q", ref)
		}
		data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(ref, "/images/")))
		if err != nil {
			t.Fatalf("stored image missing: %v", err)
		}
		if string(data) != "\x89PNG fake" {
			t.Errorf("stored data = %q", data)
		}
		if got := calls.Recent(llmcall.QueryFilter{Kind: llmcall.KindImage}); len(got) != 1 || got[0].Response != ref {
			t.Errorf("recorded = %+v", got)
		}
	})
}

func TestNewService_Validation(t *testing.T) {
	reg := providers.NewRegistry()
	tests := []Config{
		{},
		{Registry: reg, ImageProvider: "img"},
		{Registry: reg, LLMProvider: "llm"},
	}
	for i, cfg := range tests {
		if _, err := NewService(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
