package book_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/book/booktest"
)

func TestMemoryStore(t *testing.T) {
	booktest.Run(t, func(t *testing.T) book.Store {
		return book.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	booktest.Run(t, func(t *testing.T) book.Store {
		s, err := book.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "picturebook.db"))
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerStore(t *testing.T) {
	booktest.Run(t, func(t *testing.T) book.Store {
		s, err := book.OpenBadger(book.BadgerConfig{InMemory: true})
		if err != nil {
			t.Fatalf("OpenBadger() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestDefraStore(t *testing.T) {
	booktest.Run(t, func(t *testing.T) book.Store {
		return book.NewDefraStore(newFakeDefra(t), nil)
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "picturebook.db")

	s, err := book.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	b, _ := s.CreateBook(ctx, "persisted")
	if _, err := s.CommitPageText(ctx, b.ID, 0, "once upon a time"); err != nil {
		t.Fatalf("CommitPageText() error = %v", err)
	}
	s.Close()

	s, err = book.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.ReadBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("ReadBook() error = %v", err)
	}
	if got.Version != 1 || got.Pages[0].Text != "once upon a time" {
		t.Errorf("unexpected book after reopen: %+v", got)
	}
}

func TestBadgerStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := book.OpenBadger(book.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	b, _ := s.CreateBook(ctx, "persisted")
	if _, err := s.CommitPageText(ctx, b.ID, 0, "the end"); err != nil {
		t.Fatalf("CommitPageText() error = %v", err)
	}
	s.Close()

	s, err = book.OpenBadger(book.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.ReadBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("ReadBook() error = %v", err)
	}
	if got.Pages[0].Text != "the end" {
		t.Errorf("unexpected book after reopen: %+v", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     book.OpenConfig
		wantErr bool
	}{
		{"default is memory", book.OpenConfig{}, false},
		{"sqlite", book.OpenConfig{Backend: book.BackendSQLite, SQLitePath: filepath.Join(dir, "p.db")}, false},
		{"sqlite without path", book.OpenConfig{Backend: book.BackendSQLite}, true},
		{"badger", book.OpenConfig{Backend: book.BackendBadger, BadgerPath: filepath.Join(dir, "badger")}, false},
		{"badger without path", book.OpenConfig{Backend: book.BackendBadger}, true},
		{"defra without client", book.OpenConfig{Backend: book.BackendDefra}, true},
		{"unknown", book.OpenConfig{Backend: "postgres"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := book.Open(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
