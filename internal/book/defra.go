package book

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/picturebook/internal/defra"
)

const storyCollection = "Story"

var storyFields = []string{"_docID", "title", "version", "created_at", "pages_json"}

// DefraStore keeps each book as a single Story document in DefraDB. Pages
// live in one JSON field so a commit is a single document update.
//
// DefraDB has no compare-and-set, so writers to the same book are serialized
// in process. Only one picturebook server may use a DefraDB instance.
type DefraStore struct {
	client *defra.Client
	logger *slog.Logger
	locks  sync.Map // book ID -> *sync.Mutex
}

// NewDefraStore creates a store on an initialized DefraDB (see schema.Initialize).
func NewDefraStore(client *defra.Client, logger *slog.Logger) *DefraStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraStore{client: client, logger: logger}
}

func (s *DefraStore) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *DefraStore) CreateBook(ctx context.Context, title string) (*Book, error) {
	created := time.Now().UTC()
	res, err := s.client.Create(ctx, storyCollection, map[string]any{
		"title":      title,
		"version":    0,
		"created_at": created.Format(time.RFC3339Nano),
		"pages_json": "[]",
	})
	if err != nil {
		return nil, unavailable("create story", err)
	}
	s.logger.Debug("story created", "book_id", res.DocID, "cid", res.CID)
	return &Book{ID: res.DocID, Title: title, Pages: []Page{}, CreatedAt: created}, nil
}

func (s *DefraStore) ListBooks(ctx context.Context) ([]Summary, error) {
	resp, err := defra.NewQuery(storyCollection).Fields(storyFields...).Execute(ctx, s.client)
	if err != nil {
		return nil, unavailable("list stories", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, unavailable("list stories", fmt.Errorf("%s", msg))
	}

	out := make([]Summary, 0)
	for _, doc := range resp.Documents(storyCollection) {
		b, err := bookFromDoc(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable story", "book_id", defra.StringField(doc, "_docID"), "error", err)
			continue
		}
		out = append(out, b.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *DefraStore) ReadBook(ctx context.Context, id string) (*Book, error) {
	return s.fetch(ctx, id)
}

func (s *DefraStore) UpsertPageText(ctx context.Context, id string, index int, text string) error {
	return s.mutate(ctx, id, func(b *Book) (bool, error) {
		return true, b.upsertText(index, text)
	})
}

func (s *DefraStore) BumpAndClearAll(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.mutate(ctx, id, func(b *Book) (bool, error) {
		version = b.bumpAndClear()
		return true, nil
	})
	return version, err
}

func (s *DefraStore) CommitPageText(ctx context.Context, id string, index int, text string) (*Book, error) {
	var snap *Book
	err := s.mutate(ctx, id, func(b *Book) (bool, error) {
		if err := b.upsertText(index, text); err != nil {
			return false, err
		}
		b.bumpAndClear()
		snap = b.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *DefraStore) AppendPage(ctx context.Context, id string, text string) (*Book, error) {
	var snap *Book
	err := s.mutate(ctx, id, func(b *Book) (bool, error) {
		b.appendText(text)
		b.bumpAndClear()
		snap = b.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *DefraStore) ApplyIllustration(ctx context.Context, id string, index int, version int64, imageRef, prompt string) (bool, error) {
	var applied bool
	err := s.mutate(ctx, id, func(b *Book) (bool, error) {
		var err error
		applied, err = b.applyIllustration(index, version, imageRef, prompt)
		return applied, err
	})
	return applied, err
}

func (s *DefraStore) ClearIllustration(ctx context.Context, id string, index int) error {
	return s.mutate(ctx, id, func(b *Book) (bool, error) {
		return true, b.clearIllustration(index)
	})
}

func (s *DefraStore) Close() error { return nil }

// mutate reads the story, applies fn and writes version and pages back in
// one document update, all under the book's lock. fn returns false to skip
// the write.
func (s *DefraStore) mutate(ctx context.Context, id string, fn func(b *Book) (bool, error)) error {
	unlock := s.lock(id)
	defer unlock()

	b, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	write, err := fn(b)
	if err != nil || !write {
		return err
	}

	pages, err := json.Marshal(b.Pages)
	if err != nil {
		return fmt.Errorf("encode pages: %w", err)
	}
	res, err := s.client.Update(ctx, storyCollection, id, map[string]any{
		"version":    b.Version,
		"pages_json": string(pages),
	})
	if err != nil {
		return unavailable("update story", err)
	}
	s.logger.Debug("story updated", "book_id", id, "version", b.Version, "cid", res.CID)
	return nil
}

func (s *DefraStore) fetch(ctx context.Context, id string) (*Book, error) {
	if defra.ValidateID(id) != nil {
		return nil, ErrNotFound
	}
	resp, err := defra.NewQuery(storyCollection).
		Filter("_docID", id).
		Fields(storyFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, unavailable("read story", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, unavailable("read story", fmt.Errorf("%s", msg))
	}

	docs := resp.Documents(storyCollection)
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	b, err := bookFromDoc(docs[0])
	if err != nil {
		return nil, unavailable("decode story", err)
	}
	return b, nil
}

func bookFromDoc(doc map[string]any) (*Book, error) {
	b := &Book{
		ID:        defra.StringField(doc, "_docID"),
		Title:     defra.StringField(doc, "title"),
		Version:   defra.Int64Field(doc, "version"),
		CreatedAt: parseTime(defra.StringField(doc, "created_at")),
		Pages:     []Page{},
	}
	if raw := defra.StringField(doc, "pages_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &b.Pages); err != nil {
			return nil, fmt.Errorf("decode pages: %w", err)
		}
	}
	return b, nil
}

var _ Store = (*DefraStore)(nil)
