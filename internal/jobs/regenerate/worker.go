// Package regenerate runs regeneration jobs: it illustrates one page against
// the book version the job was created for, and discards the result if the
// book has moved on.
package regenerate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/illustrate"
	"github.com/jackzampolin/picturebook/internal/jobs"
	"github.com/jackzampolin/picturebook/internal/llmcall"
)

// Outcome is how a job ended.
type Outcome string

const (
	// OutcomeApplied means the illustration was written to the page.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means the book version changed before the result could be used.
	OutcomeStale Outcome = "stale"
	// OutcomeSkipped means the page had no text to illustrate.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the store or the pipeline returned an error. The
	// job is dropped; a later edit schedules a fresh one.
	OutcomeFailed Outcome = "failed"
)

// Pipeline produces a scene description and an image for it.
type Pipeline interface {
	Summarize(ctx context.Context, story string, numPages int) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Config configures a Worker.
type Config struct {
	Store    book.Store
	Pipeline Pipeline
	Logger   *slog.Logger
}

// Worker executes regeneration jobs. It is safe for concurrent use.
type Worker struct {
	store    book.Store
	pipeline Pipeline
	logger   *slog.Logger

	applied atomic.Int64
	stale   atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New creates a Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		logger:   logger.With("component", "regenerate"),
	}
}

// Handle implements jobs.Handler. Stale and skipped jobs are successes;
// only failures are returned, for the scheduler to log and drop.
func (w *Worker) Handle(ctx context.Context, job jobs.RegenerationJob) error {
	_, err := w.Run(ctx, job)
	return err
}

// Run waits until job.NotBefore, then illustrates the page if the book is
// still at job.Version.
func (w *Worker) Run(ctx context.Context, job jobs.RegenerationJob) (Outcome, error) {
	outcome, err := w.run(ctx, job)
	switch outcome {
	case OutcomeApplied:
		w.applied.Add(1)
	case OutcomeStale:
		w.stale.Add(1)
	case OutcomeSkipped:
		w.skipped.Add(1)
	case OutcomeFailed:
		w.failed.Add(1)
	}
	return outcome, err
}

func (w *Worker) run(ctx context.Context, job jobs.RegenerationJob) (Outcome, error) {
	logger := w.logger.With("book_id", job.BookID, "page", job.PageIndex, "version", job.Version)

	if err := sleepUntil(ctx, job.NotBefore); err != nil {
		return OutcomeFailed, err
	}

	b, err := w.store.ReadBook(ctx, job.BookID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read book: %w", err)
	}
	if b.Version != job.Version {
		logger.Debug("discarding stale job", "current_version", b.Version)
		return OutcomeStale, nil
	}

	page, ok := b.Page(job.PageIndex)
	if !ok {
		return OutcomeFailed, &book.OutOfRangeError{Index: job.PageIndex, Count: len(b.Pages)}
	}
	if !page.HasText() {
		logger.Debug("skipping empty page")
		return OutcomeSkipped, nil
	}

	ctx = llmcall.WithOptions(ctx, llmcall.RecordOptions{
		BookID:  job.BookID,
		Page:    job.PageIndex,
		Version: job.Version,
		JobID:   job.ID(),
	})

	story := b.StorySoFar(job.PageIndex)
	description, err := w.pipeline.Summarize(ctx, story, job.PageIndex+1)
	if err != nil {
		return OutcomeFailed, err
	}
	imageRef, err := w.pipeline.GenerateImage(ctx, illustrate.ImagePrompt(description))
	if err != nil {
		return OutcomeFailed, err
	}

	applied, err := w.store.ApplyIllustration(ctx, job.BookID, job.PageIndex, job.Version, imageRef, description)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("apply illustration: %w", err)
	}
	if !applied {
		logger.Debug("discarding stale illustration")
		return OutcomeStale, nil
	}

	logger.Info("illustration applied", "image_ref", imageRef)
	return OutcomeApplied, nil
}

// Stats counts job outcomes since the worker was created.
type Stats struct {
	Applied int64 `json:"applied"`
	Stale   int64 `json:"stale"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Stats returns the outcome counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Applied: w.applied.Load(),
		Stale:   w.stale.Load(),
		Skipped: w.skipped.Load(),
		Failed:  w.failed.Load(),
	}
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ jobs.Handler = (*Worker)(nil)
