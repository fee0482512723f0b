package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const badgerBookPrefix = "book/"

// BadgerConfig configures the embedded Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// ConflictRetries bounds how often a transaction is replayed after
	// badger reports a write conflict. Default: 10.
	ConflictRetries uint

	Logger *slog.Logger
}

// BadgerStore keeps each book as one JSON document under book/<id>.
// Every mutation is a read-modify-write inside an optimistic transaction,
// replayed when a concurrent writer to the same book wins the commit.
type BadgerStore struct {
	db      *badger.DB
	retries uint
	logger  *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens or creates a Badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = 10
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, retries: cfg.ConflictRetries, logger: logger}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func bookKey(id string) []byte {
	return []byte(badgerBookPrefix + id)
}

func (s *BadgerStore) CreateBook(_ context.Context, title string) (*Book, error) {
	b := &Book{
		ID:        uuid.New().String(),
		Title:     title,
		Pages:     []Page{},
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal book: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bookKey(b.ID), data)
	}); err != nil {
		return nil, unavailable("create book", err)
	}
	return b, nil
}

func (s *BadgerStore) ListBooks(_ context.Context) ([]Summary, error) {
	out := make([]Summary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerBookPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var b Book
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return err
			}
			out = append(out, b.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list books", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *BadgerStore) ReadBook(_ context.Context, id string) (*Book, error) {
	var b *Book
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = getBook(txn, id)
		return err
	})
	if err != nil {
		return nil, s.wrap("read book", err)
	}
	return b, nil
}

func (s *BadgerStore) UpsertPageText(ctx context.Context, id string, index int, text string) error {
	return s.mutate(ctx, id, func(b *Book) error {
		return b.upsertText(index, text)
	})
}

func (s *BadgerStore) BumpAndClearAll(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.mutate(ctx, id, func(b *Book) error {
		version = b.bumpAndClear()
		return nil
	})
	return version, err
}

func (s *BadgerStore) CommitPageText(ctx context.Context, id string, index int, text string) (*Book, error) {
	var snap *Book
	err := s.mutate(ctx, id, func(b *Book) error {
		if err := b.upsertText(index, text); err != nil {
			return err
		}
		b.bumpAndClear()
		snap = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *BadgerStore) AppendPage(ctx context.Context, id string, text string) (*Book, error) {
	var snap *Book
	err := s.mutate(ctx, id, func(b *Book) error {
		b.appendText(text)
		b.bumpAndClear()
		snap = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *BadgerStore) ApplyIllustration(ctx context.Context, id string, index int, version int64, imageRef, prompt string) (bool, error) {
	var applied bool
	err := s.mutate(ctx, id, func(b *Book) error {
		var err error
		applied, err = b.applyIllustration(index, version, imageRef, prompt)
		if err == nil && !applied {
			return errNoChange
		}
		return err
	})
	return applied, err
}

func (s *BadgerStore) ClearIllustration(ctx context.Context, id string, index int) error {
	return s.mutate(ctx, id, func(b *Book) error {
		return b.clearIllustration(index)
	})
}

// errNoChange lets a mutation skip the write without failing.
var errNoChange = errors.New("no change")

// mutate loads the book, applies fn and writes it back in one transaction.
// The whole transaction is replayed on badger.ErrConflict.
func (s *BadgerStore) mutate(ctx context.Context, id string, fn func(b *Book) error) error {
	err := retry.Do(
		func() error {
			return s.db.Update(func(txn *badger.Txn) error {
				b, err := getBook(txn, id)
				if err != nil {
					return err
				}
				if err := fn(b); err != nil {
					return err
				}
				data, err := json.Marshal(b)
				if err != nil {
					return fmt.Errorf("marshal book: %w", err)
				}
				return txn.Set(bookKey(id), data)
			})
		},
		retry.Context(ctx),
		retry.Attempts(s.retries),
		retry.Delay(time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, badger.ErrConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("badger write conflict, retrying", "book_id", id, "attempt", n+1)
		}),
	)
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return s.wrap("update book", err)
	}
	return nil
}

// wrap passes domain errors through and marks everything else as a backend failure.
func (s *BadgerStore) wrap(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOutOfRange) {
		return err
	}
	return unavailable(op, err)
}

func getBook(txn *badger.Txn, id string) (*Book, error) {
	item, err := txn.Get(bookKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b Book
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &b)
	}); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", id, err)
	}
	if b.Pages == nil {
		b.Pages = []Page{}
	}
	return &b, nil
}

var _ Store = (*BadgerStore)(nil)
