package endpoints

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/debounce"
	"github.com/jackzampolin/picturebook/internal/story"
)

func dialSession(t *testing.T, ctx context.Context, h *harness, bookID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.url, "http") + "/api/books/" + bookID + "/session"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readUntil reads events until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(SessionEvent) bool) SessionEvent {
	t.Helper()
	for {
		var ev SessionEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func TestSession_KeystrokesCommitOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newHarness(t, true)
	b, err := h.store.CreateBook(ctx, "cats")
	if err != nil {
		t.Fatal(err)
	}

	conn := dialSession(t, ctx, h, b.ID)

	first := readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventBook })
	if first.Book == nil || first.Book.ID != b.ID || first.Version != 0 {
		t.Fatalf("initial snapshot = %+v", first)
	}

	if err := wsjson.Write(ctx, conn, SessionMessage{Type: MessageBegin, Page: 0}); err != nil {
		t.Fatal(err)
	}
	state := readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventState })
	if state.State != debounce.Editing.String() || state.Page != 0 {
		t.Fatalf("state after begin = %+v", state)
	}

	for _, text := range []string{"A", "A c", "A ca", "A cat"} {
		if err := wsjson.Write(ctx, conn, SessionMessage{Type: MessageKeys, Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	committed := readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventCommitted })
	if committed.Version != 1 {
		t.Errorf("committed version = %d, want 1", committed.Version)
	}
	mid, err := h.store.ReadBook(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mid.Version != 1 || mid.Pages[0].Text != "A cat" {
		t.Errorf("book after settle = v%d %q, want v1 %q", mid.Version, mid.Pages[0].Text, "A cat")
	}

	if err := wsjson.Write(ctx, conn, SessionMessage{Type: MessageCommit, Text: "A cat sat\n"}); err != nil {
		t.Fatal(err)
	}
	committed = readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventCommitted })
	if committed.Version != 2 {
		t.Errorf("version after terminator = %d, want 2", committed.Version)
	}
	state = readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventState })
	if state.State != debounce.Viewing.String() {
		t.Errorf("state after commit = %q, want viewing", state.State)
	}

	got, err := h.store.ReadBook(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.Pages[0].Text != "A cat sat" {
		t.Errorf("stored book = v%d %q", got.Version, got.Pages[0].Text)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestSession_CommitKeepsMultilineText(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newHarness(t, true)
	b, err := h.store.CreateBook(ctx, "poem")
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSession(t, ctx, h, b.ID)
	readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventBook })

	if err := wsjson.Write(ctx, conn, SessionMessage{Type: MessageBegin, Page: 0}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventState })

	if err := wsjson.Write(ctx, conn, SessionMessage{Type: MessageCommit, Text: "line1\nline2"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventCommitted })

	got, err := h.store.ReadBook(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Pages) != 1 || got.Pages[0].Text != "line1\nline2" {
		t.Errorf("stored pages = %+v, want %q", got.Pages, "line1\nline2")
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestSession_RejectsBadMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newHarness(t, true)
	b, err := h.store.CreateBook(ctx, "cats")
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSession(t, ctx, h, b.ID)

	tests := []struct {
		msg  SessionMessage
		want string
	}{
		{SessionMessage{Type: MessageKeys, Text: "x"}, debounce.ErrNotEditing.Error()},
		{SessionMessage{Type: MessageBegin, Page: 4}, book.ErrOutOfRange.Error()},
		{SessionMessage{Type: "shout"}, "unknown message type"},
	}
	for _, tt := range tests {
		if err := wsjson.Write(ctx, conn, tt.msg); err != nil {
			t.Fatal(err)
		}
		ev := readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventError })
		if !strings.Contains(ev.Error, tt.want) {
			t.Errorf("%s: error = %q, want it to contain %q", tt.msg.Type, ev.Error, tt.want)
		}
	}
}

func TestSession_PushesIllustrations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newHarness(t, true)
	b, err := h.store.CreateBook(ctx, "cats")
	if err != nil {
		t.Fatal(err)
	}
	coord, err := story.New(story.Config{Store: h.store, Dispatcher: h.disp})
	if err != nil {
		t.Fatal(err)
	}
	version, err := coord.CommitEdit(ctx, b.ID, 0, "A cat")
	if err != nil {
		t.Fatal(err)
	}

	conn := dialSession(t, ctx, h, b.ID)
	readUntil(t, ctx, conn, func(ev SessionEvent) bool { return ev.Type == EventBook })

	if _, err := h.store.ApplyIllustration(ctx, b.ID, 0, version, "/images/cat.png", "a cat"); err != nil {
		t.Fatal(err)
	}
	ev := readUntil(t, ctx, conn, func(ev SessionEvent) bool {
		return ev.Type == EventBook && ev.Book.Pages[0].Illustration != nil
	})
	if ev.Book.Pages[0].Illustration.ImageRef != "/images/cat.png" {
		t.Errorf("pushed illustration = %+v", ev.Book.Pages[0].Illustration)
	}
}

func TestSession_UnknownBook(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t, true)
	url := "ws" + strings.TrimPrefix(h.url, "http") + "/api/books/missing/session"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("Dial() succeeded for unknown book")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("response = %v, want 404", resp)
	}
}

func TestFingerprint(t *testing.T) {
	b := &book.Book{Version: 1, Pages: []book.Page{{Index: 0, Text: "a"}}}
	before := fingerprint(b)
	b.Pages[0].Illustration = &book.Illustration{ImageRef: "x"}
	if fingerprint(b) == before {
		t.Error("fingerprint ignores illustrations")
	}
}
