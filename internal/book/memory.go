package book

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps books in process memory with one lock per book.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]*memoryBook
}

type memoryBook struct {
	mu   sync.Mutex
	book *Book
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[string]*memoryBook)}
}

func (s *MemoryStore) CreateBook(_ context.Context, title string) (*Book, error) {
	b := &Book{
		ID:        uuid.New().String(),
		Title:     title,
		Pages:     []Page{},
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.books[b.ID] = &memoryBook{book: b}
	s.mu.Unlock()
	return b.Clone(), nil
}

func (s *MemoryStore) ListBooks(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	entries := make([]*memoryBook, 0, len(s.books))
	for _, e := range s.books {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.book.Summary())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// with runs fn while holding the book's lock.
func (s *MemoryStore) with(id string, fn func(b *Book) error) error {
	s.mu.RLock()
	e, ok := s.books[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.book)
}

func (s *MemoryStore) ReadBook(_ context.Context, id string) (*Book, error) {
	var snap *Book
	err := s.with(id, func(b *Book) error {
		snap = b.Clone()
		return nil
	})
	return snap, err
}

func (s *MemoryStore) UpsertPageText(_ context.Context, id string, index int, text string) error {
	return s.with(id, func(b *Book) error {
		return b.upsertText(index, text)
	})
}

func (s *MemoryStore) BumpAndClearAll(_ context.Context, id string) (int64, error) {
	var version int64
	err := s.with(id, func(b *Book) error {
		version = b.bumpAndClear()
		return nil
	})
	return version, err
}

func (s *MemoryStore) CommitPageText(_ context.Context, id string, index int, text string) (*Book, error) {
	var snap *Book
	err := s.with(id, func(b *Book) error {
		if err := b.upsertText(index, text); err != nil {
			return err
		}
		b.bumpAndClear()
		snap = b.Clone()
		return nil
	})
	return snap, err
}

func (s *MemoryStore) AppendPage(_ context.Context, id string, text string) (*Book, error) {
	var snap *Book
	err := s.with(id, func(b *Book) error {
		b.appendText(text)
		b.bumpAndClear()
		snap = b.Clone()
		return nil
	})
	return snap, err
}

func (s *MemoryStore) ApplyIllustration(_ context.Context, id string, index int, version int64, imageRef, prompt string) (bool, error) {
	var applied bool
	err := s.with(id, func(b *Book) error {
		var err error
		applied, err = b.applyIllustration(index, version, imageRef, prompt)
		return err
	})
	return applied, err
}

func (s *MemoryStore) ClearIllustration(_ context.Context, id string, index int) error {
	return s.with(id, func(b *Book) error {
		return b.clearIllustration(index)
	})
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
