package regenerate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/illustrate"
	"github.com/jackzampolin/picturebook/internal/jobs"
)

// fakePipeline records calls and lets tests hook into either step.
type fakePipeline struct {
	mu        sync.Mutex
	stories   []string
	numPages  []int
	prompts   []string
	onSummary func()
	err       error
}

func (p *fakePipeline) Summarize(ctx context.Context, story string, numPages int) (string, error) {
	p.mu.Lock()
	p.stories = append(p.stories, story)
	p.numPages = append(p.numPages, numPages)
	hook := p.onSummary
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if p.err != nil {
		return "", fmt.Errorf("%w: %w", illustrate.ErrPipeline, p.err)
	}
	return fmt.Sprintf("scene %d", numPages), nil
}

func (p *fakePipeline) GenerateImage(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	return fmt.Sprintf("img-%d", len(p.prompts)), nil
}

func (p *fakePipeline) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stories)
}

func setup(t *testing.T, pages ...string) (*book.MemoryStore, string, int64) {
	t.Helper()
	ctx := context.Background()
	store := book.NewMemoryStore()
	b, err := store.CreateBook(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	var version int64
	for i, text := range pages {
		committed, err := store.CommitPageText(ctx, b.ID, i, text)
		if err != nil {
			t.Fatal(err)
		}
		version = committed.Version
	}
	return store, b.ID, version
}

func TestWorker_AppliesCurrentJob(t *testing.T) {
	store, id, version := setup(t, "A fox found a key.", "The key opened a door.")
	pipeline := &fakePipeline{}
	w := New(Config{Store: store, Pipeline: pipeline})

	outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: id, PageIndex: 1, Version: version})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}

	if pipeline.stories[0] != "A fox found a key.\n\nThe key opened a door." {
		t.Errorf("story = %q", pipeline.stories[0])
	}
	if pipeline.numPages[0] != 2 {
		t.Errorf("numPages = %d, want 2", pipeline.numPages[0])
	}
	if pipeline.prompts[0] != "scene 2 in the style of a children's book illustration" {
		t.Errorf("image prompt = %q", pipeline.prompts[0])
	}

	b, _ := store.ReadBook(context.Background(), id)
	ill := b.Pages[1].Illustration
	if ill == nil || ill.ImageRef != "img-1" || ill.Prompt != "scene 2" {
		t.Errorf("illustration = %+v", ill)
	}
	if b.Pages[0].Illustration != nil {
		t.Error("page 0 should not be touched")
	}
}

func TestWorker_StaleBeforeStart(t *testing.T) {
	store, id, version := setup(t, "one")
	if _, err := store.CommitPageText(context.Background(), id, 0, "one, edited"); err != nil {
		t.Fatal(err)
	}
	pipeline := &fakePipeline{}
	w := New(Config{Store: store, Pipeline: pipeline})

	outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: id, PageIndex: 0, Version: version})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeStale {
		t.Fatalf("outcome = %s, want stale", outcome)
	}
	if pipeline.calls() != 0 {
		t.Error("pipeline ran for a stale job")
	}
}

func TestWorker_StaleAtApply(t *testing.T) {
	store, id, version := setup(t, "The bear slept.")
	pipeline := &fakePipeline{}
	pipeline.onSummary = func() {
		if _, err := store.CommitPageText(context.Background(), id, 0, "The bear woke up."); err != nil {
			t.Error(err)
		}
	}
	w := New(Config{Store: store, Pipeline: pipeline})

	outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: id, PageIndex: 0, Version: version})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeStale {
		t.Fatalf("outcome = %s, want stale", outcome)
	}

	b, _ := store.ReadBook(context.Background(), id)
	if b.Pages[0].Illustration != nil {
		t.Errorf("stale illustration applied: %+v", b.Pages[0].Illustration)
	}
	if b.Version != version+1 {
		t.Errorf("version = %d, want %d", b.Version, version+1)
	}
}

func TestWorker_SkipsEmptyPage(t *testing.T) {
	store, id, version := setup(t, "text", "  \n\t ")
	pipeline := &fakePipeline{}
	w := New(Config{Store: store, Pipeline: pipeline})

	outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: id, PageIndex: 1, Version: version})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if pipeline.calls() != 0 {
		t.Error("pipeline ran for an empty page")
	}
}

func TestWorker_Failures(t *testing.T) {
	t.Run("pipeline error", func(t *testing.T) {
		store, id, version := setup(t, "text")
		w := New(Config{Store: store, Pipeline: &fakePipeline{err: errors.New("provider down")}})

		outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: id, PageIndex: 0, Version: version})
		if outcome != OutcomeFailed {
			t.Errorf("outcome = %s, want failed", outcome)
		}
		if !errors.Is(err, illustrate.ErrPipeline) {
			t.Errorf("err = %v, want ErrPipeline", err)
		}
		b, _ := store.ReadBook(context.Background(), id)
		if b.Pages[0].Illustration != nil || b.Version != version {
			t.Error("failed job changed the book")
		}
	})

	t.Run("unknown book", func(t *testing.T) {
		w := New(Config{Store: book.NewMemoryStore(), Pipeline: &fakePipeline{}})
		outcome, err := w.Run(context.Background(), jobs.RegenerationJob{BookID: "missing", Version: 1})
		if outcome != OutcomeFailed || !errors.Is(err, book.ErrNotFound) {
			t.Errorf("outcome = %s, err = %v", outcome, err)
		}
	})

	t.Run("handle surfaces only failures", func(t *testing.T) {
		store, id, version := setup(t, "text")
		w := New(Config{Store: store, Pipeline: &fakePipeline{}})
		if err := w.Handle(context.Background(), jobs.RegenerationJob{BookID: id, Version: version - 1}); err != nil {
			t.Errorf("stale job returned error: %v", err)
		}
		if err := w.Handle(context.Background(), jobs.RegenerationJob{BookID: "missing"}); err == nil {
			t.Error("failed job returned nil")
		}
	})
}

func TestWorker_HonoursNotBefore(t *testing.T) {
	store, id, version := setup(t, "text")
	w := New(Config{Store: store, Pipeline: &fakePipeline{}})

	t.Run("waits", func(t *testing.T) {
		start := time.Now()
		job := jobs.RegenerationJob{BookID: id, Version: version, NotBefore: start.Add(50 * time.Millisecond)}
		if _, err := w.Run(context.Background(), job); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("ran after %v, before NotBefore", elapsed)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		job := jobs.RegenerationJob{BookID: id, Version: version, NotBefore: time.Now().Add(time.Hour)}
		outcome, err := w.Run(ctx, job)
		if outcome != OutcomeFailed || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("outcome = %s, err = %v", outcome, err)
		}
	})
}

func TestWorker_Stats(t *testing.T) {
	store, id, version := setup(t, "text", "")
	w := New(Config{Store: store, Pipeline: &fakePipeline{}})
	ctx := context.Background()

	w.Run(ctx, jobs.RegenerationJob{BookID: id, PageIndex: 0, Version: version})
	w.Run(ctx, jobs.RegenerationJob{BookID: id, PageIndex: 1, Version: version})
	w.Run(ctx, jobs.RegenerationJob{BookID: id, PageIndex: 0, Version: version - 1})
	w.Run(ctx, jobs.RegenerationJob{BookID: "missing"})

	want := Stats{Applied: 1, Stale: 1, Skipped: 1, Failed: 1}
	if got := w.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestWorker_LastWriterWins(t *testing.T) {
	// Jobs for an old version finishing after a newer one never overwrite it.
	store, id, v1 := setup(t, "first")
	committed, err := store.CommitPageText(context.Background(), id, 0, "second")
	if err != nil {
		t.Fatal(err)
	}
	v2 := committed.Version
	pipeline := &fakePipeline{}
	w := New(Config{Store: store, Pipeline: pipeline})
	ctx := context.Background()

	if outcome, _ := w.Run(ctx, jobs.RegenerationJob{BookID: id, Version: v2}); outcome != OutcomeApplied {
		t.Fatalf("current job outcome = %s", outcome)
	}
	if outcome, _ := w.Run(ctx, jobs.RegenerationJob{BookID: id, Version: v1}); outcome != OutcomeStale {
		t.Fatalf("old job outcome = %s", outcome)
	}

	b, _ := store.ReadBook(ctx, id)
	if b.Pages[0].Illustration == nil || !strings.HasPrefix(b.Pages[0].Illustration.ImageRef, "img-") {
		t.Fatalf("illustration = %+v", b.Pages[0].Illustration)
	}
	if pipeline.stories[0] != "second" {
		t.Errorf("illustrated story = %q, want second", pipeline.stories[0])
	}
}
