package book

import (
	"errors"
	"testing"
)

func TestOutOfRangeError(t *testing.T) {
	err := error(&OutOfRangeError{Index: 4, Count: 2})
	if !errors.Is(err, ErrOutOfRange) {
		t.Error("OutOfRangeError should match ErrOutOfRange")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("OutOfRangeError should not match ErrNotFound")
	}
	if got := err.Error(); got != "page index 4 out of range (book has 2 pages)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("disk on fire")
	err := unavailable("write page", cause)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, cause) {
		t.Errorf("unavailable() lost its chain: %v", err)
	}
}

func TestBook_StorySoFar(t *testing.T) {
	b := &Book{Pages: []Page{{Text: "One."}, {Text: "Two."}, {Text: "Three."}}}

	tests := []struct {
		index int
		want  string
	}{
		{0, "One."},
		{1, "One.\n\nTwo."},
		{2, "One.\n\nTwo.\n\nThree."},
		{7, "One.\n\nTwo.\n\nThree."},
	}
	for _, tt := range tests {
		if got := b.StorySoFar(tt.index); got != tt.want {
			t.Errorf("StorySoFar(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestBook_Clone(t *testing.T) {
	b := &Book{
		ID:    "b1",
		Pages: []Page{{Index: 0, Text: "a", Illustration: &Illustration{ImageRef: "img"}}},
	}
	c := b.Clone()
	c.Pages[0].Illustration.ImageRef = "changed"
	c.Pages[0].Text = "changed"

	if b.Pages[0].Illustration.ImageRef != "img" || b.Pages[0].Text != "a" {
		t.Error("Clone() shares state with the original")
	}
}

func TestBook_Page(t *testing.T) {
	b := &Book{Pages: []Page{{Index: 0, Text: "a"}}}
	if _, ok := b.Page(0); !ok {
		t.Error("Page(0) not found")
	}
	if _, ok := b.Page(1); ok {
		t.Error("Page(1) should not exist")
	}
	if _, ok := b.Page(-1); ok {
		t.Error("Page(-1) should not exist")
	}
}

func TestPage_HasText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"   \n\t", false},
		{"x", true},
	}
	for _, tt := range tests {
		if got := (Page{Text: tt.text}).HasText(); got != tt.want {
			t.Errorf("HasText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestBook_ApplyIllustration(t *testing.T) {
	b := &Book{Version: 3, Pages: []Page{{Index: 0, Text: "a"}}}

	ok, err := b.applyIllustration(0, 2, "old", "p")
	if ok || err != nil {
		t.Errorf("stale apply = %v, %v", ok, err)
	}
	ok, err = b.applyIllustration(0, 3, "new", "p")
	if !ok || err != nil {
		t.Errorf("current apply = %v, %v", ok, err)
	}
	if b.Pages[0].Illustration.ImageRef != "new" {
		t.Errorf("illustration = %+v", b.Pages[0].Illustration)
	}
	if b.bumpAndClear() != 4 || b.Pages[0].Illustration != nil {
		t.Error("bumpAndClear() did not bump and clear")
	}
}
