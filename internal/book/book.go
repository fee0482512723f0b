// Package book holds the paginated story model and the stores that persist it.
//
// Every store serializes mutations per book, so the version counter and the
// illustration compare-and-set never interleave for the same book.
package book

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a book ID is unknown to the store.
	ErrNotFound = errors.New("book not found")

	// ErrOutOfRange is returned when a page index is beyond the append point.
	ErrOutOfRange = errors.New("page index out of range")

	// ErrStoreUnavailable wraps failures of the underlying storage backend.
	ErrStoreUnavailable = errors.New("book store unavailable")
)

// OutOfRangeError reports the offending index and the page count at the time.
// It matches ErrOutOfRange with errors.Is.
type OutOfRangeError struct {
	Index int
	Count int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("page index %d out of range (book has %d pages)", e.Index, e.Count)
}

func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// unavailable wraps a backend error so callers can test for ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Illustration is the generated image for a page and the prompt that produced it.
type Illustration struct {
	ImageRef string `json:"image_ref" yaml:"image_ref"`
	Prompt   string `json:"prompt" yaml:"prompt"`
}

// Page is one page of a book. Index is its stable position.
type Page struct {
	Index        int           `json:"index" yaml:"index"`
	Text         string        `json:"text" yaml:"text"`
	Illustration *Illustration `json:"illustration,omitempty" yaml:"illustration,omitempty"`
}

// HasText reports whether the page has non-whitespace text.
func (p Page) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// Book is a snapshot of a story.
type Book struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Version   int64     `json:"version" yaml:"version"`
	Pages     []Page    `json:"pages" yaml:"pages"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Summary is the listing view of a book.
type Summary struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Version   int64     `json:"version" yaml:"version"`
	PageCount int       `json:"page_count" yaml:"page_count"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Summary returns the listing view of b.
func (b *Book) Summary() Summary {
	return Summary{
		ID:        b.ID,
		Title:     b.Title,
		Version:   b.Version,
		PageCount: len(b.Pages),
		CreatedAt: b.CreatedAt,
	}
}

// Clone returns a deep copy so callers never share illustration pointers with a store.
func (b *Book) Clone() *Book {
	out := *b
	out.Pages = make([]Page, len(b.Pages))
	for i, p := range b.Pages {
		out.Pages[i] = p
		if p.Illustration != nil {
			ill := *p.Illustration
			out.Pages[i].Illustration = &ill
		}
	}
	return &out
}

// Page returns the page at index, or false if it does not exist.
func (b *Book) Page(index int) (Page, bool) {
	if index < 0 || index >= len(b.Pages) {
		return Page{}, false
	}
	return b.Pages[index], true
}

// StorySoFar joins the text of pages 0 through index, one paragraph per page.
func (b *Book) StorySoFar(index int) string {
	if index >= len(b.Pages) {
		index = len(b.Pages) - 1
	}
	parts := make([]string, 0, index+1)
	for i := 0; i <= index; i++ {
		parts = append(parts, b.Pages[i].Text)
	}
	return strings.Join(parts, "\n\n")
}

// upsertText appends a page when index == len(pages), otherwise replaces text.
func (b *Book) upsertText(index int, text string) error {
	switch {
	case index == len(b.Pages):
		b.Pages = append(b.Pages, Page{Index: index, Text: text})
	case index >= 0 && index < len(b.Pages):
		b.Pages[index].Text = text
	default:
		return &OutOfRangeError{Index: index, Count: len(b.Pages)}
	}
	return nil
}

// appendText adds a page after the last one and returns its index.
func (b *Book) appendText(text string) int {
	index := len(b.Pages)
	b.Pages = append(b.Pages, Page{Index: index, Text: text})
	return index
}

// bumpAndClear increments the version and drops every illustration.
func (b *Book) bumpAndClear() int64 {
	b.Version++
	for i := range b.Pages {
		b.Pages[i].Illustration = nil
	}
	return b.Version
}

// applyIllustration sets the illustration iff version is still current.
func (b *Book) applyIllustration(index int, version int64, imageRef, prompt string) (bool, error) {
	if version != b.Version {
		return false, nil
	}
	if index < 0 || index >= len(b.Pages) {
		return false, &OutOfRangeError{Index: index, Count: len(b.Pages)}
	}
	b.Pages[index].Illustration = &Illustration{ImageRef: imageRef, Prompt: prompt}
	return true, nil
}

func (b *Book) clearIllustration(index int) error {
	if index < 0 || index >= len(b.Pages) {
		return &OutOfRangeError{Index: index, Count: len(b.Pages)}
	}
	b.Pages[index].Illustration = nil
	return nil
}
