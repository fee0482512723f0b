package debounce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/jobs"
	"github.com/jackzampolin/picturebook/internal/story"
)

type commit struct {
	page int
	text string
}

type commitLog struct {
	mu      sync.Mutex
	commits []commit
	ch      chan commit
}

func newCommitLog() *commitLog {
	return &commitLog{ch: make(chan commit, 16)}
}

func (l *commitLog) record(page int, text string) {
	l.mu.Lock()
	l.commits = append(l.commits, commit{page, text})
	l.mu.Unlock()
	l.ch <- commit{page, text}
}

func (l *commitLog) all() []commit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]commit(nil), l.commits...)
}

func (l *commitLog) wait(t *testing.T) commit {
	t.Helper()
	select {
	case c := <-l.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit")
		return commit{}
	}
}

func TestGate_KeystrokesCoalesce(t *testing.T) {
	log := newCommitLog()
	g := New(Config{Commit: log.record, CommitDelay: 30 * time.Millisecond, IdleTimeout: time.Second})

	if err := g.Begin(0, ""); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"A", "A ", "A c", "A ca", "A cat"} {
		if err := g.Keystroke(text); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := log.wait(t)
	if got != (commit{0, "A cat"}) {
		t.Errorf("commit = %+v", got)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(log.all()); n != 1 {
		t.Errorf("commits = %d, want 1", n)
	}
	if state, page, _ := g.State(); state != Editing || page != 0 {
		t.Errorf("state = %v page %d, want still editing page 0", state, page)
	}
}

func TestGate_Terminate(t *testing.T) {
	log := newCommitLog()
	g := New(Config{Commit: log.record, CommitDelay: 50 * time.Millisecond, IdleTimeout: time.Second})

	g.Begin(2, "The end")
	g.Keystroke("The end.")
	if err := g.Terminate("The end.\n"); err != nil {
		t.Fatal(err)
	}

	got := log.all()
	if len(got) != 1 || got[0] != (commit{2, "The end."}) {
		t.Fatalf("commits = %+v", got)
	}
	if state, _, _ := g.State(); state != Viewing {
		t.Errorf("state = %v, want viewing", state)
	}

	// The cancelled commit timer must not fire afterwards.
	time.Sleep(100 * time.Millisecond)
	if n := len(log.all()); n != 1 {
		t.Errorf("commits = %d after terminate, want 1", n)
	}
}

func TestGate_TerminateKeepsInnerNewlines(t *testing.T) {
	log := newCommitLog()
	g := New(Config{Commit: log.record})
	g.Begin(0, "")
	g.Terminate("line one\nline two\n")
	if got := log.all(); got[0].text != "line one\nline two" {
		t.Errorf("text = %q", got[0].text)
	}
}

func TestGate_TerminateWaitsForSettledCommit(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		entered = make(chan struct{}, 1)
		release = make(chan struct{})
	)
	g := New(Config{
		Commit: func(_ int, text string) {
			mu.Lock()
			order = append(order, text)
			first := len(order) == 1
			mu.Unlock()
			if first {
				entered <- struct{}{}
				<-release
			}
		},
		CommitDelay: 10 * time.Millisecond,
		IdleTimeout: time.Second,
	})

	g.Begin(0, "")
	g.Keystroke("A cat")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("settled commit never started")
	}

	done := make(chan error, 1)
	go func() { done <- g.Terminate("A cat sat\n") }()

	select {
	case <-done:
		t.Fatal("Terminate committed while a settled commit was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A cat" || order[1] != "A cat sat" {
		t.Errorf("commit order = %q, want [A cat, A cat sat]", order)
	}
}

func TestGate_IdleReturnsToViewingWithoutCommit(t *testing.T) {
	log := newCommitLog()
	idled := make(chan int, 1)
	g := New(Config{
		Commit:      log.record,
		CommitDelay: time.Second,
		IdleTimeout: 30 * time.Millisecond,
		OnIdle:      func(page int) { idled <- page },
	})

	g.Begin(1, "draft")
	select {
	case page := <-idled:
		if page != 1 {
			t.Errorf("idle page = %d, want 1", page)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle timer never fired")
	}
	if state, _, _ := g.State(); state != Viewing {
		t.Errorf("state = %v, want viewing", state)
	}
	if n := len(log.all()); n != 0 {
		t.Errorf("idle produced %d commits", n)
	}
}

func TestGate_KeystrokeResetsIdle(t *testing.T) {
	g := New(Config{CommitDelay: 10 * time.Millisecond, IdleTimeout: 80 * time.Millisecond})
	g.Begin(0, "")
	for i := 0; i < 6; i++ {
		time.Sleep(30 * time.Millisecond)
		if err := g.Keystroke("x"); err != nil {
			t.Fatalf("keystroke %d: %v", i, err)
		}
	}
	if state, _, _ := g.State(); state != Editing {
		t.Errorf("state = %v, want editing while typing", state)
	}
}

func TestGate_OnePageAtATime(t *testing.T) {
	g := New(Config{})
	defer g.Cancel()

	if err := g.Begin(0, ""); err != nil {
		t.Fatal(err)
	}
	if err := g.Begin(0, ""); err != nil {
		t.Errorf("re-begin same page: %v", err)
	}
	if err := g.Begin(1, ""); !errors.Is(err, ErrAlreadyEditing) {
		t.Errorf("err = %v, want ErrAlreadyEditing", err)
	}
}

func TestGate_NotEditing(t *testing.T) {
	g := New(Config{})
	if err := g.Keystroke("a"); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Keystroke err = %v", err)
	}
	if err := g.Terminate("a\n"); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Terminate err = %v", err)
	}
}

func TestGate_CancelDropsPending(t *testing.T) {
	log := newCommitLog()
	g := New(Config{Commit: log.record, CommitDelay: 20 * time.Millisecond})
	g.Begin(0, "")
	g.Keystroke("abandoned")
	g.Cancel()
	time.Sleep(60 * time.Millisecond)
	if n := len(log.all()); n != 0 {
		t.Errorf("commits = %d after cancel", n)
	}
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(jobs.RegenerationJob) {}

// Two keystrokes inside the window settle into one coordinator commit.
func TestGate_RapidEditsBumpVersionOnce(t *testing.T) {
	ctx := context.Background()
	store := book.NewMemoryStore()
	coord, err := story.New(story.Config{Store: store, Dispatcher: nopDispatcher{}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := store.CreateBook(ctx, "rapid")

	done := make(chan int64, 4)
	g := New(Config{
		CommitDelay: 40 * time.Millisecond,
		IdleTimeout: time.Second,
		Commit: func(page int, text string) {
			v, err := coord.CommitEdit(ctx, b.ID, page, text)
			if err != nil {
				t.Error(err)
			}
			done <- v
		},
	})
	defer g.Cancel()

	g.Begin(0, "")
	g.Keystroke("A")
	g.Keystroke("A cat")

	select {
	case v := <-done:
		if v != 1 {
			t.Errorf("version = %d, want 1", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no commit")
	}
	time.Sleep(100 * time.Millisecond)

	got, _ := coord.ReadBook(ctx, b.ID)
	if got.Version != 1 || got.Pages[0].Text != "A cat" {
		t.Errorf("book = v%d %+v", got.Version, got.Pages)
	}
}
