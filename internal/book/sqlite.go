package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    version    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
    book_id   TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    idx       INTEGER NOT NULL,
    text      TEXT NOT NULL DEFAULT '',
    image_ref TEXT,
    prompt    TEXT,
    PRIMARY KEY (book_id, idx)
);
`

// SQLiteStore persists books in a single SQLite file.
// A single connection serializes every transaction, which gives each book a
// single writer.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateBook(ctx context.Context, title string) (*Book, error) {
	b := &Book{
		ID:        uuid.New().String(),
		Title:     title,
		Pages:     []Page{},
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, title, version, created_at) VALUES (?, ?, 0, ?)`,
		b.ID, b.Title, b.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, unavailable("insert book", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBooks(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT b.id, b.title, b.version, b.created_at, COUNT(p.idx)
        FROM books b LEFT JOIN pages p ON p.book_id = b.id
        GROUP BY b.id
        ORDER BY b.created_at`)
	if err != nil {
		return nil, unavailable("list books", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var sum Summary
		var created string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Version, &created, &sum.PageCount); err != nil {
			return nil, unavailable("scan book", err)
		}
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list books", err)
	}
	return out, nil
}

func (s *SQLiteStore) ReadBook(ctx context.Context, id string) (*Book, error) {
	var b *Book
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		b, err = readBookTx(ctx, tx, id)
		return err
	})
	return b, err
}

func (s *SQLiteStore) UpsertPageText(ctx context.Context, id string, index int, text string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertTextTx(ctx, tx, id, index, text)
	})
}

func (s *SQLiteStore) BumpAndClearAll(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		version, err = bumpTx(ctx, tx, id)
		return err
	})
	return version, err
}

func (s *SQLiteStore) CommitPageText(ctx context.Context, id string, index int, text string) (*Book, error) {
	var b *Book
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertTextTx(ctx, tx, id, index, text); err != nil {
			return err
		}
		if _, err := bumpTx(ctx, tx, id); err != nil {
			return err
		}
		var err error
		b, err = readBookTx(ctx, tx, id)
		return err
	})
	return b, err
}

func (s *SQLiteStore) AppendPage(ctx context.Context, id string, text string) (*Book, error) {
	var b *Book
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, count, err := versionAndCountTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := upsertTextTx(ctx, tx, id, count, text); err != nil {
			return err
		}
		if _, err := bumpTx(ctx, tx, id); err != nil {
			return err
		}
		b, err = readBookTx(ctx, tx, id)
		return err
	})
	return b, err
}

func (s *SQLiteStore) ApplyIllustration(ctx context.Context, id string, index int, version int64, imageRef, prompt string) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, count, err := versionAndCountTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current != version {
			return nil
		}
		if index < 0 || index >= count {
			return &OutOfRangeError{Index: index, Count: count}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pages SET image_ref = ?, prompt = ? WHERE book_id = ? AND idx = ?`,
			imageRef, prompt, id, index,
		); err != nil {
			return unavailable("apply illustration", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *SQLiteStore) ClearIllustration(ctx context.Context, id string, index int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, count, err := versionAndCountTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if index < 0 || index >= count {
			return &OutOfRangeError{Index: index, Count: count}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pages SET image_ref = NULL, prompt = NULL WHERE book_id = ? AND idx = ?`,
			id, index,
		); err != nil {
			return unavailable("clear illustration", err)
		}
		return nil
	})
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

func versionAndCountTx(ctx context.Context, tx *sql.Tx, id string) (int64, int, error) {
	var version int64
	var count int
	err := tx.QueryRowContext(ctx, `
        SELECT b.version, (SELECT COUNT(*) FROM pages p WHERE p.book_id = b.id)
        FROM books b WHERE b.id = ?`, id).Scan(&version, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, unavailable("read version", err)
	}
	return version, count, nil
}

func readBookTx(ctx context.Context, tx *sql.Tx, id string) (*Book, error) {
	b := &Book{ID: id, Pages: []Page{}}
	var created string
	err := tx.QueryRowContext(ctx,
		`SELECT title, version, created_at FROM books WHERE id = ?`, id,
	).Scan(&b.Title, &b.Version, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read book", err)
	}
	b.CreatedAt = parseTime(created)

	rows, err := tx.QueryContext(ctx,
		`SELECT idx, text, image_ref, prompt FROM pages WHERE book_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, unavailable("read pages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Page
		var ref, prompt sql.NullString
		if err := rows.Scan(&p.Index, &p.Text, &ref, &prompt); err != nil {
			return nil, unavailable("scan page", err)
		}
		if ref.Valid {
			p.Illustration = &Illustration{ImageRef: ref.String, Prompt: prompt.String}
		}
		b.Pages = append(b.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read pages", err)
	}
	return b, nil
}

func upsertTextTx(ctx context.Context, tx *sql.Tx, id string, index int, text string) error {
	_, count, err := versionAndCountTx(ctx, tx, id)
	if err != nil {
		return err
	}
	switch {
	case index == count:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pages (book_id, idx, text) VALUES (?, ?, ?)`, id, index, text)
	case index >= 0 && index < count:
		_, err = tx.ExecContext(ctx,
			`UPDATE pages SET text = ? WHERE book_id = ? AND idx = ?`, text, id, index)
	default:
		return &OutOfRangeError{Index: index, Count: count}
	}
	if err != nil {
		return unavailable("write page", err)
	}
	return nil
}

func bumpTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`UPDATE books SET version = version + 1 WHERE id = ? RETURNING version`, id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, unavailable("bump version", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET image_ref = NULL, prompt = NULL WHERE book_id = ?`, id,
	); err != nil {
		return 0, unavailable("clear illustrations", err)
	}
	return version, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*SQLiteStore)(nil)
