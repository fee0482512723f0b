// Package story coordinates edits to books: every committed edit bumps the
// book version, clears stale illustrations and schedules regeneration of
// every page against the new version.
package story

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/jobs"
)

// DefaultJobDelay is how long a regeneration job waits after the edit that
// created it. Edits landing within the delay make the job stale before it
// calls any provider.
const DefaultJobDelay = 5 * time.Second

// Config configures a Coordinator.
type Config struct {
	Store      book.Store
	Dispatcher jobs.Dispatcher
	JobDelay   time.Duration
	Logger     *slog.Logger

	// Now overrides the clock; tests use it to check NotBefore times.
	Now func() time.Time
}

// Coordinator is the only writer of page text.
type Coordinator struct {
	store      book.Store
	dispatcher jobs.Dispatcher
	jobDelay   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("book store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("job dispatcher is required")
	}
	if cfg.JobDelay <= 0 {
		cfg.JobDelay = DefaultJobDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		jobDelay:   cfg.JobDelay,
		logger:     cfg.Logger.With("component", "story"),
		now:        cfg.Now,
	}, nil
}

// CreateBook creates a book with one empty page.
func (c *Coordinator) CreateBook(ctx context.Context, title string) (*book.Book, error) {
	b, err := c.store.CreateBook(ctx, title)
	if err != nil {
		return nil, err
	}
	if _, err := c.CommitEdit(ctx, b.ID, 0, ""); err != nil {
		return nil, fmt.Errorf("add first page: %w", err)
	}
	c.logger.Info("book created", "book_id", b.ID, "title", title)
	return c.store.ReadBook(ctx, b.ID)
}

// ListBooks returns every book's summary.
func (c *Coordinator) ListBooks(ctx context.Context) ([]book.Summary, error) {
	return c.store.ListBooks(ctx)
}

// ReadBook returns a snapshot of a book.
func (c *Coordinator) ReadBook(ctx context.Context, bookID string) (*book.Book, error) {
	return c.store.ReadBook(ctx, bookID)
}

// CommitEdit writes text to page pageIndex, appending when pageIndex equals
// the page count, and returns the new book version. Every illustration is
// cleared and each page with text gets a regeneration job for the new
// version, due after the job delay.
func (c *Coordinator) CommitEdit(ctx context.Context, bookID string, pageIndex int, text string) (int64, error) {
	b, err := c.store.CommitPageText(ctx, bookID, pageIndex, text)
	if err != nil {
		return 0, err
	}
	c.schedule(b, pageIndex)
	return b.Version, nil
}

// AddPage appends an empty page and returns its index and the new version.
// The store picks the index, so a concurrent append at the same position
// lands after it rather than being overwritten.
func (c *Coordinator) AddPage(ctx context.Context, bookID string) (int, int64, error) {
	b, err := c.store.AppendPage(ctx, bookID, "")
	if err != nil {
		return 0, 0, err
	}
	index := len(b.Pages) - 1
	c.schedule(b, index)
	return index, b.Version, nil
}

// schedule dispatches a regeneration job for every page of the committed
// snapshot b that has text.
func (c *Coordinator) schedule(b *book.Book, pageIndex int) {
	logger := c.logger.With("book_id", b.ID, "page", pageIndex, "version", b.Version)
	logger.Debug("edit committed")

	notBefore := c.now().Add(c.jobDelay)
	scheduled := 0
	for _, p := range b.Pages {
		if !p.HasText() {
			continue
		}
		c.dispatcher.Dispatch(jobs.RegenerationJob{
			BookID:    b.ID,
			PageIndex: p.Index,
			Version:   b.Version,
			NotBefore: notBefore,
		})
		scheduled++
	}
	logger.Debug("regeneration scheduled", "jobs", scheduled)
}

// RegenerateImageForPage clears one page's illustration and asks for a new
// one at the current version, immediately. The version is not bumped and no
// other page is touched. Empty pages are cleared but not dispatched.
func (c *Coordinator) RegenerateImageForPage(ctx context.Context, bookID string, pageIndex int) error {
	if err := c.store.ClearIllustration(ctx, bookID, pageIndex); err != nil {
		return err
	}

	b, err := c.store.ReadBook(ctx, bookID)
	if err != nil {
		return err
	}
	page, ok := b.Page(pageIndex)
	if !ok {
		return &book.OutOfRangeError{Index: pageIndex, Count: len(b.Pages)}
	}

	logger := c.logger.With("book_id", bookID, "page", pageIndex, "version", b.Version)
	if !page.HasText() {
		logger.Debug("page is empty, nothing to regenerate")
		return nil
	}

	c.dispatcher.Dispatch(jobs.RegenerationJob{
		BookID:    bookID,
		PageIndex: pageIndex,
		Version:   b.Version,
		NotBefore: c.now(),
	})
	logger.Info("regeneration requested")
	return nil
}
