package book

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jackzampolin/picturebook/internal/defra"
)

// Store persists books. Operations on one book are linearizable.
type Store interface {
	// CreateBook creates an empty book at version 0.
	CreateBook(ctx context.Context, title string) (*Book, error)

	// ListBooks returns summaries of every book, oldest first.
	ListBooks(ctx context.Context) ([]Summary, error)

	// ReadBook returns a consistent snapshot of a book.
	ReadBook(ctx context.Context, id string) (*Book, error)

	// UpsertPageText appends a page when index equals the page count,
	// otherwise replaces the text of an existing page.
	UpsertPageText(ctx context.Context, id string, index int, text string) error

	// BumpAndClearAll increments the version and clears every illustration
	// in one atomic step, returning the new version.
	BumpAndClearAll(ctx context.Context, id string) (int64, error)

	// CommitPageText performs UpsertPageText and BumpAndClearAll as a
	// single atomic unit and returns the book as that unit left it.
	CommitPageText(ctx context.Context, id string, index int, text string) (*Book, error)

	// AppendPage adds a page with text after the last page, bumps the version
	// and clears every illustration, all in one atomic unit. The new page's
	// index is len(Pages)-1 of the returned book.
	AppendPage(ctx context.Context, id string, text string) (*Book, error)

	// ApplyIllustration sets a page's illustration only if version equals the
	// book's current version. A mismatch returns false and changes nothing.
	ApplyIllustration(ctx context.Context, id string, index int, version int64, imageRef, prompt string) (bool, error)

	// ClearIllustration drops one page's illustration without touching the version.
	ClearIllustration(ctx context.Context, id string, index int) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendDefra  = "defra"
)

// OpenConfig selects and configures a Store backend.
type OpenConfig struct {
	Backend     string
	SQLitePath  string
	BadgerPath  string
	DefraClient *defra.Client
	Logger      *slog.Logger
}

// Open builds the Store named by cfg.Backend.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("backend", cfg.Backend)

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return OpenSQLite(ctx, filepath.Clean(cfg.SQLitePath))
	case BackendBadger:
		if cfg.BadgerPath == "" {
			return nil, fmt.Errorf("badger backend requires a path")
		}
		return OpenBadger(BadgerConfig{Path: cfg.BadgerPath, Logger: logger})
	case BackendDefra:
		if cfg.DefraClient == nil {
			return nil, fmt.Errorf("defra backend requires a client")
		}
		return NewDefraStore(cfg.DefraClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
