package endpoints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/debounce"
	"github.com/jackzampolin/picturebook/internal/story"
	"github.com/jackzampolin/picturebook/internal/svcctx"
)

// Session message types sent by editors.
const (
	MessageBegin  = "begin"
	MessageKeys   = "keys"
	MessageCommit = "commit"
	MessageEnd    = "end"
)

// Session event types pushed by the server.
const (
	EventBook      = "book"
	EventState     = "state"
	EventCommitted = "committed"
	EventError     = "error"
)

// DefaultPollInterval is how often a session re-reads the book to pick up
// illustrations and edits from other editors.
const DefaultPollInterval = 2 * time.Second

// SessionMessage is sent by an editor over the session websocket.
type SessionMessage struct {
	Type string `json:"type"`
	Page int    `json:"page"`
	Text string `json:"text,omitempty"`
}

// SessionEvent is pushed to the editor.
type SessionEvent struct {
	Type    string     `json:"type"`
	Book    *book.Book `json:"book,omitempty"`
	State   string     `json:"state,omitempty"`
	Page    int        `json:"page"`
	Version int64      `json:"version,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// SessionEndpoint handles GET /api/books/{id}/session, a websocket carrying
// one editor's keystrokes. Each connection gets its own debounce gate, so a
// burst of typing turns into a single commit.
type SessionEndpoint struct {
	// InsecureSkipVerify disables the websocket origin check.
	InsecureSkipVerify bool
}

func (e *SessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/session", e.handler
}

func (e *SessionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Live edit session
//	@Description	Upgrades to a websocket. Send begin/keys/commit/end messages; receive book snapshots.
//	@Tags			books
//	@Param			id	path	string	true	"Book ID"
//	@Success		101
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id}/session [get]
func (e *SessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	coord := svcctx.CoordinatorFrom(ctx)
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}
	if _, err := coord.ReadBook(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}

	// The server's read/write timeouts would otherwise cut long sessions.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: e.InsecureSkipVerify,
	})
	if err != nil {
		svcctx.LoggerFrom(ctx).Warn("websocket accept failed", "book_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	timing := svcctx.SessionTimingFrom(ctx)
	s := newSession(conn, coord, id, timing, svcctx.LoggerFrom(ctx))
	err = s.run(ctx)

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.logger.Debug("session closed")
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if ctx.Err() != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.logger.Warn("session ended", "error", err)
	conn.Close(websocket.StatusInternalError, "session error")
}

func (e *SessionEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}

type session struct {
	conn   *websocket.Conn
	coord  *story.Coordinator
	bookID string
	gate   *debounce.Gate
	poll   time.Duration
	logger *slog.Logger

	// ctx is the connection context; gate callbacks run on timer goroutines.
	ctx context.Context

	mu       sync.Mutex
	lastSent string
}

func newSession(conn *websocket.Conn, coord *story.Coordinator, bookID string, timing svcctx.SessionTiming, logger *slog.Logger) *session {
	if timing.PollInterval <= 0 {
		timing.PollInterval = DefaultPollInterval
	}
	s := &session{
		conn:   conn,
		coord:  coord,
		bookID: bookID,
		poll:   timing.PollInterval,
		logger: logger.With("book_id", bookID, "component", "session"),
	}
	s.gate = debounce.New(debounce.Config{
		Commit:      s.commit,
		CommitDelay: timing.CommitDelay,
		IdleTimeout: timing.IdleTimeout,
		OnIdle:      s.idle,
		Logger:      s.logger,
	})
	return s
}

func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	defer s.gate.Cancel()

	if err := s.pushBook(ctx, true); err != nil {
		return err
	}
	go s.pollLoop(ctx)

	for {
		var msg SessionMessage
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			return err
		}
		if err := s.handle(ctx, msg); err != nil {
			s.logger.Debug("session message rejected", "type", msg.Type, "error", err)
			if err := s.send(ctx, SessionEvent{Type: EventError, Page: msg.Page, Error: err.Error()}); err != nil {
				return err
			}
		}
	}
}

func (s *session) handle(ctx context.Context, msg SessionMessage) error {
	switch msg.Type {
	case MessageBegin:
		b, err := s.coord.ReadBook(ctx, s.bookID)
		if err != nil {
			return err
		}
		if msg.Page < 0 || msg.Page > len(b.Pages) {
			return &book.OutOfRangeError{Index: msg.Page, Count: len(b.Pages)}
		}
		current := ""
		if msg.Page < len(b.Pages) {
			current = b.Pages[msg.Page].Text
		}
		if err := s.gate.Begin(msg.Page, current); err != nil {
			return err
		}
		return s.sendState(ctx)
	case MessageKeys:
		return s.gate.Keystroke(msg.Text)
	case MessageCommit:
		text := msg.Text
		if !strings.HasSuffix(text, debounce.Terminator) {
			text += debounce.Terminator
		}
		if err := s.gate.Terminate(text); err != nil {
			return err
		}
		return s.sendState(ctx)
	case MessageEnd:
		s.gate.Cancel()
		return s.sendState(ctx)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// commit is the gate's commit callback.
func (s *session) commit(page int, text string) {
	ctx := s.ctx
	version, err := s.coord.CommitEdit(ctx, s.bookID, page, text)
	if err != nil {
		s.logger.Warn("commit failed", "page", page, "error", err)
		_ = s.send(ctx, SessionEvent{Type: EventError, Page: page, Error: err.Error()})
		return
	}
	if err := s.send(ctx, SessionEvent{Type: EventCommitted, Page: page, Version: version}); err != nil {
		return
	}
	_ = s.pushBook(ctx, false)
}

func (s *session) idle(page int) {
	_ = s.sendState(s.ctx)
}

func (s *session) sendState(ctx context.Context) error {
	state, page, _ := s.gate.State()
	return s.send(ctx, SessionEvent{Type: EventState, State: state.String(), Page: page})
}

func (s *session) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.pushBook(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Debug("poll push failed", "error", err)
			}
		}
	}
}

// pushBook sends a snapshot when it differs from the last one sent.
func (s *session) pushBook(ctx context.Context, force bool) error {
	b, err := s.coord.ReadBook(ctx, s.bookID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return s.send(ctx, SessionEvent{Type: EventError, Error: err.Error()})
	}

	fp := fingerprint(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && fp == s.lastSent {
		return nil
	}
	if err := wsjson.Write(ctx, s.conn, SessionEvent{Type: EventBook, Book: b, Version: b.Version}); err != nil {
		return err
	}
	s.lastSent = fp
	return nil
}

func (s *session) send(ctx context.Context, ev SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, ev)
}

// fingerprint changes whenever the version or any illustration changes.
func fingerprint(b *book.Book) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v%d/%d", b.Version, len(b.Pages))
	for _, p := range b.Pages {
		sb.WriteByte('|')
		if p.Illustration != nil {
			sb.WriteString(p.Illustration.ImageRef)
		}
	}
	return sb.String()
}
