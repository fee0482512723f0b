// Package booktest holds a behavioural suite every book.Store must pass.
package booktest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackzampolin/picturebook/internal/book"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) book.Store

// Run exercises s against the book.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s book.Store)
	}{
		{"CreateAndRead", testCreateAndRead},
		{"ReadUnknown", testReadUnknown},
		{"ListBooks", testListBooks},
		{"UpsertAppendsAndReplaces", testUpsert},
		{"UpsertOutOfRange", testUpsertOutOfRange},
		{"UpsertKeepsVersionAndIllustrations", testUpsertKeepsVersion},
		{"BumpAndClearAll", testBumpAndClearAll},
		{"CommitPageText", testCommitPageText},
		{"CommitOutOfRangeChangesNothing", testCommitOutOfRange},
		{"AppendPage", testAppendPage},
		{"ConcurrentAppends", testAppendConcurrent},
		{"ApplyAtCurrentVersion", testApplyCurrent},
		{"ApplyTwiceIsIdempotent", testApplyIdempotent},
		{"ApplyAtStaleVersion", testApplyStale},
		{"ApplyOutOfRange", testApplyOutOfRange},
		{"ClearIllustration", testClearIllustration},
		{"ConcurrentCommits", testConcurrentCommits},
		{"StaleResultAfterInterleavedCommit", testInterleavedCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// seed creates a book with the given page texts, committed once per page.
func seed(t *testing.T, s book.Store, texts ...string) *book.Book {
	t.Helper()
	ctx := context.Background()
	b, err := s.CreateBook(ctx, "seed")
	if err != nil {
		t.Fatalf("CreateBook() error = %v", err)
	}
	for i, text := range texts {
		if _, err := s.CommitPageText(ctx, b.ID, i, text); err != nil {
			t.Fatalf("CommitPageText(%d) error = %v", i, err)
		}
	}
	return read(t, s, b.ID)
}

func read(t *testing.T, s book.Store, id string) *book.Book {
	t.Helper()
	b, err := s.ReadBook(context.Background(), id)
	if err != nil {
		t.Fatalf("ReadBook() error = %v", err)
	}
	return b
}

// illustrateAll applies an illustration to every page at the current version.
func illustrateAll(t *testing.T, s book.Store, b *book.Book) {
	t.Helper()
	for i := range b.Pages {
		ok, err := s.ApplyIllustration(context.Background(), b.ID, i, b.Version, fmt.Sprintf("img-%d", i), "prompt")
		if err != nil || !ok {
			t.Fatalf("ApplyIllustration(%d) = %v, %v", i, ok, err)
		}
	}
}

func testCreateAndRead(t *testing.T, s book.Store) {
	created, err := s.CreateBook(context.Background(), "The Lighthouse")
	if err != nil {
		t.Fatalf("CreateBook() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateBook() returned empty ID")
	}

	got := read(t, s, created.ID)
	if got.Title != "The Lighthouse" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Version != 0 {
		t.Errorf("Version = %d, want 0", got.Version)
	}
	if len(got.Pages) != 0 {
		t.Errorf("expected no pages, got %d", len(got.Pages))
	}
}

func testReadUnknown(t *testing.T, s book.Store) {
	_, err := s.ReadBook(context.Background(), "missing-book")
	if !errors.Is(err, book.ErrNotFound) {
		t.Errorf("ReadBook() error = %v, want ErrNotFound", err)
	}
	_, err = s.CommitPageText(context.Background(), "missing-book", 0, "x")
	if !errors.Is(err, book.ErrNotFound) {
		t.Errorf("CommitPageText() error = %v, want ErrNotFound", err)
	}
}

func testListBooks(t *testing.T, s book.Store) {
	a := seed(t, s, "one")
	b := seed(t, s, "one", "two")

	list, err := s.ListBooks(context.Background())
	if err != nil {
		t.Fatalf("ListBooks() error = %v", err)
	}
	counts := map[string]int{}
	for _, sum := range list {
		counts[sum.ID] = sum.PageCount
	}
	if counts[a.ID] != 1 || counts[b.ID] != 2 {
		t.Errorf("unexpected page counts: %v", counts)
	}
}

func testUpsert(t *testing.T, s book.Store) {
	ctx := context.Background()
	b := seed(t, s)

	if err := s.UpsertPageText(ctx, b.ID, 0, "first"); err != nil {
		t.Fatalf("append page 0: %v", err)
	}
	if err := s.UpsertPageText(ctx, b.ID, 1, "second"); err != nil {
		t.Fatalf("append page 1: %v", err)
	}
	if err := s.UpsertPageText(ctx, b.ID, 0, "first, revised"); err != nil {
		t.Fatalf("replace page 0: %v", err)
	}

	got := read(t, s, b.ID)
	if len(got.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(got.Pages))
	}
	for i, want := range []string{"first, revised", "second"} {
		if got.Pages[i].Index != i || got.Pages[i].Text != want {
			t.Errorf("page %d = %+v, want text %q", i, got.Pages[i], want)
		}
	}
}

func testUpsertOutOfRange(t *testing.T, s book.Store) {
	b := seed(t, s, "only page")
	for _, idx := range []int{2, 5, -1} {
		err := s.UpsertPageText(context.Background(), b.ID, idx, "x")
		if !errors.Is(err, book.ErrOutOfRange) {
			t.Errorf("UpsertPageText(%d) error = %v, want ErrOutOfRange", idx, err)
		}
	}
	if got := read(t, s, b.ID); len(got.Pages) != 1 {
		t.Errorf("page count changed to %d", len(got.Pages))
	}
}

func testUpsertKeepsVersion(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b")
	illustrateAll(t, s, b)

	if err := s.UpsertPageText(context.Background(), b.ID, 1, "b2"); err != nil {
		t.Fatalf("UpsertPageText() error = %v", err)
	}
	got := read(t, s, b.ID)
	if got.Version != b.Version {
		t.Errorf("Version = %d, want %d", got.Version, b.Version)
	}
	for i, p := range got.Pages {
		if p.Illustration == nil {
			t.Errorf("page %d illustration was cleared", i)
		}
	}
}

func testBumpAndClearAll(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b", "c")
	illustrateAll(t, s, b)

	v, err := s.BumpAndClearAll(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("BumpAndClearAll() error = %v", err)
	}
	if v != b.Version+1 {
		t.Errorf("version = %d, want %d", v, b.Version+1)
	}
	got := read(t, s, b.ID)
	if got.Version != v {
		t.Errorf("stored version = %d, want %d", got.Version, v)
	}
	for i, p := range got.Pages {
		if p.Illustration != nil {
			t.Errorf("page %d still illustrated", i)
		}
		if p.Text != b.Pages[i].Text {
			t.Errorf("page %d text changed", i)
		}
	}
}

func testCommitPageText(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b")
	illustrateAll(t, s, b)

	committed, err := s.CommitPageText(context.Background(), b.ID, 2, "c")
	if err != nil {
		t.Fatalf("CommitPageText() error = %v", err)
	}
	if committed.Version != b.Version+1 {
		t.Errorf("version = %d, want %d", committed.Version, b.Version+1)
	}

	got := read(t, s, b.ID)
	if len(got.Pages) != 3 || got.Pages[2].Text != "c" {
		t.Fatalf("unexpected pages: %+v", got.Pages)
	}
	for i, p := range got.Pages {
		if p.Illustration != nil {
			t.Errorf("page %d still illustrated after commit", i)
		}
	}
	if committed.ID != b.ID || len(committed.Pages) != len(got.Pages) {
		t.Fatalf("returned snapshot = %+v, stored = %+v", committed, got)
	}
	for i := range got.Pages {
		if committed.Pages[i].Text != got.Pages[i].Text || committed.Pages[i].Illustration != nil {
			t.Errorf("snapshot page %d = %+v, stored %+v", i, committed.Pages[i], got.Pages[i])
		}
	}
}

func testCommitOutOfRange(t *testing.T, s book.Store) {
	b := seed(t, s, "a")
	illustrateAll(t, s, b)

	_, err := s.CommitPageText(context.Background(), b.ID, 3, "x")
	if !errors.Is(err, book.ErrOutOfRange) {
		t.Fatalf("CommitPageText() error = %v, want ErrOutOfRange", err)
	}
	got := read(t, s, b.ID)
	if got.Version != b.Version {
		t.Errorf("version moved to %d", got.Version)
	}
	if got.Pages[0].Illustration == nil {
		t.Error("illustration cleared by failed commit")
	}
}

func testApplyCurrent(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b")

	ok, err := s.ApplyIllustration(context.Background(), b.ID, 1, b.Version, "img", "a red fox")
	if err != nil || !ok {
		t.Fatalf("ApplyIllustration() = %v, %v", ok, err)
	}
	got := read(t, s, b.ID)
	ill := got.Pages[1].Illustration
	if ill == nil || ill.ImageRef != "img" || ill.Prompt != "a red fox" {
		t.Errorf("illustration = %+v", ill)
	}
	if got.Pages[0].Illustration != nil {
		t.Error("page 0 unexpectedly illustrated")
	}
	if got.Version != b.Version {
		t.Errorf("apply changed version to %d", got.Version)
	}
}

func testApplyIdempotent(t *testing.T, s book.Store) {
	ctx := context.Background()
	b := seed(t, s, "a", "b", "c")

	for i := 0; i < 2; i++ {
		ok, err := s.ApplyIllustration(ctx, b.ID, 1, b.Version, "img-1", "a bear")
		if err != nil || !ok {
			t.Fatalf("ApplyIllustration() call %d = %v, %v; want true, nil", i+1, ok, err)
		}
	}
	once := read(t, s, b.ID)

	ok, err := s.ApplyIllustration(ctx, b.ID, 1, b.Version, "img-1", "a bear")
	if err != nil || !ok {
		t.Fatalf("ApplyIllustration() = %v, %v; want true, nil", ok, err)
	}
	got := read(t, s, b.ID)

	if got.Version != b.Version {
		t.Errorf("version = %d, want %d", got.Version, b.Version)
	}
	ill := got.Pages[1].Illustration
	if ill == nil || ill.ImageRef != "img-1" || ill.Prompt != "a bear" {
		t.Errorf("illustration = %+v", ill)
	}
	if *ill != *once.Pages[1].Illustration {
		t.Errorf("repeat apply changed illustration: %+v -> %+v", once.Pages[1].Illustration, ill)
	}
	for _, i := range []int{0, 2} {
		if got.Pages[i].Illustration != nil || got.Pages[i].Text != b.Pages[i].Text {
			t.Errorf("page %d changed: %+v", i, got.Pages[i])
		}
	}
}

func testAppendPage(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b")
	illustrateAll(t, s, b)

	appended, err := s.AppendPage(context.Background(), b.ID, "c")
	if err != nil {
		t.Fatalf("AppendPage() error = %v", err)
	}
	if appended.Version != b.Version+1 {
		t.Errorf("version = %d, want %d", appended.Version, b.Version+1)
	}
	got := read(t, s, b.ID)
	if len(got.Pages) != 3 || got.Pages[2].Text != "c" || got.Pages[2].Index != 2 {
		t.Fatalf("unexpected pages: %+v", got.Pages)
	}
	if len(appended.Pages) != 3 {
		t.Errorf("returned snapshot has %d pages, want 3", len(appended.Pages))
	}
	for i, p := range got.Pages {
		if p.Illustration != nil {
			t.Errorf("page %d still illustrated after append", i)
		}
	}

	if _, err := s.AppendPage(context.Background(), "missing-book", ""); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("AppendPage(missing) error = %v, want ErrNotFound", err)
	}
}

func testAppendConcurrent(t *testing.T, s book.Store) {
	const writers = 8
	b := seed(t, s, "first")

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.AppendPage(context.Background(), b.ID, fmt.Sprintf("appended %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendPage() error = %v", err)
	}

	got := read(t, s, b.ID)
	if len(got.Pages) != writers+1 {
		t.Fatalf("pages = %d, want %d", len(got.Pages), writers+1)
	}
	if got.Version != b.Version+writers {
		t.Errorf("version = %d, want %d", got.Version, b.Version+writers)
	}
	seen := map[string]bool{}
	for i, p := range got.Pages {
		if p.Index != i {
			t.Errorf("page %d has index %d", i, p.Index)
		}
		seen[p.Text] = true
	}
	for i := 0; i < writers; i++ {
		if text := fmt.Sprintf("appended %d", i); !seen[text] {
			t.Errorf("%q was lost", text)
		}
	}
}

func testApplyStale(t *testing.T, s book.Store) {
	b := seed(t, s, "a")

	ok, err := s.ApplyIllustration(context.Background(), b.ID, 0, b.Version-1, "old", "old prompt")
	if err != nil {
		t.Fatalf("ApplyIllustration() error = %v", err)
	}
	if ok {
		t.Error("stale apply reported success")
	}
	if got := read(t, s, b.ID); got.Pages[0].Illustration != nil {
		t.Error("stale apply wrote an illustration")
	}
}

func testApplyOutOfRange(t *testing.T, s book.Store) {
	b := seed(t, s, "a")
	_, err := s.ApplyIllustration(context.Background(), b.ID, 4, b.Version, "img", "p")
	if !errors.Is(err, book.ErrOutOfRange) {
		t.Errorf("ApplyIllustration() error = %v, want ErrOutOfRange", err)
	}
}

func testClearIllustration(t *testing.T, s book.Store) {
	b := seed(t, s, "a", "b")
	illustrateAll(t, s, b)

	if err := s.ClearIllustration(context.Background(), b.ID, 0); err != nil {
		t.Fatalf("ClearIllustration() error = %v", err)
	}
	got := read(t, s, b.ID)
	if got.Pages[0].Illustration != nil {
		t.Error("page 0 still illustrated")
	}
	if got.Pages[1].Illustration == nil {
		t.Error("page 1 illustration was cleared")
	}
	if got.Version != b.Version {
		t.Errorf("version moved to %d", got.Version)
	}
	if err := s.ClearIllustration(context.Background(), b.ID, 9); !errors.Is(err, book.ErrOutOfRange) {
		t.Errorf("ClearIllustration(9) error = %v, want ErrOutOfRange", err)
	}
}

func testConcurrentCommits(t *testing.T, s book.Store) {
	const writers = 8
	texts := make([]string, writers)
	for i := range texts {
		texts[i] = fmt.Sprintf("page %d", i)
	}
	b := seed(t, s, texts...)

	var wg sync.WaitGroup
	versions := make(chan int64, writers)
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			committed, err := s.CommitPageText(context.Background(), b.ID, i, fmt.Sprintf("edited %d", i))
			if err != nil {
				errs <- err
				return
			}
			versions <- committed.Version
		}(i)
	}
	wg.Wait()
	close(versions)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent commit failed: %v", err)
	}
	seen := map[int64]bool{}
	for v := range versions {
		if seen[v] {
			t.Errorf("version %d returned twice", v)
		}
		seen[v] = true
	}

	got := read(t, s, b.ID)
	if got.Version != b.Version+writers {
		t.Errorf("final version = %d, want %d", got.Version, b.Version+writers)
	}
	for i, p := range got.Pages {
		if p.Text != fmt.Sprintf("edited %d", i) {
			t.Errorf("page %d text = %q", i, p.Text)
		}
	}
}

// A result generated against version v must be dropped once a later commit
// has landed, even though it targets a page the commit did not touch.
func testInterleavedCommit(t *testing.T, s book.Store) {
	ctx := context.Background()
	b := seed(t, s, "a", "b")
	v1 := b.Version

	committed, err := s.CommitPageText(ctx, b.ID, 1, "b, revised")
	if err != nil {
		t.Fatalf("CommitPageText() error = %v", err)
	}
	v2 := committed.Version
	if v2 <= v1 {
		t.Fatalf("version did not advance: %d -> %d", v1, v2)
	}

	ok, err := s.ApplyIllustration(ctx, b.ID, 0, v1, "stale", "stale")
	if err != nil || ok {
		t.Errorf("stale apply = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.ApplyIllustration(ctx, b.ID, 0, v2, "fresh", "fresh")
	if err != nil || !ok {
		t.Errorf("fresh apply = %v, %v; want true, nil", ok, err)
	}
	if got := read(t, s, b.ID); got.Pages[0].Illustration.ImageRef != "fresh" {
		t.Errorf("page 0 illustration = %+v", got.Pages[0].Illustration)
	}
}
