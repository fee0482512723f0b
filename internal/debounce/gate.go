// Package debounce turns a stream of keystrokes on one page into committed
// edits. A Gate commits after a quiet period, commits immediately on an
// explicit terminator, and drops back to viewing after a longer idle period.
package debounce

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCommitDelay = 500 * time.Millisecond
	DefaultIdleTimeout = 5 * time.Second

	// Terminator is the explicit commit signal. A trailing one is removed
	// before committing.
	Terminator = "\n"
)

var (
	ErrAlreadyEditing = errors.New("another page is already being edited")
	ErrNotEditing     = errors.New("no page is being edited")
)

// State is the gate's mode.
type State int

const (
	Viewing State = iota
	Editing
)

func (s State) String() string {
	if s == Editing {
		return "editing"
	}
	return "viewing"
}

// CommitFunc receives a settled edit. It runs on a timer goroutine or on the
// caller of Terminate, never while the gate's state lock is held. Calls never
// overlap.
type CommitFunc func(page int, text string)

// Config configures a Gate.
type Config struct {
	Commit      CommitFunc
	CommitDelay time.Duration
	IdleTimeout time.Duration

	// OnIdle is called when the idle timer returns the gate to Viewing.
	OnIdle func(page int)

	Logger *slog.Logger
}

// Gate is the edit state machine for one session.
type Gate struct {
	commit      CommitFunc
	onIdle      func(page int)
	commitDelay time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger

	// commitMu serializes calls to commit so a settled edit can never land
	// after a newer terminated one. Taken before mu, never while holding it.
	commitMu sync.Mutex

	mu      sync.Mutex
	state   State
	page    int
	pending string

	commitTimer *time.Timer
	idleTimer   *time.Timer
	// Generations let a timer callback that lost the race with Stop notice
	// it has been superseded.
	commitGen uint64
	idleGen   uint64
}

// New creates a Gate in the Viewing state.
func New(cfg Config) *Gate {
	if cfg.CommitDelay <= 0 {
		cfg.CommitDelay = DefaultCommitDelay
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Commit == nil {
		cfg.Commit = func(int, string) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		commit:      cfg.Commit,
		onIdle:      cfg.OnIdle,
		commitDelay: cfg.CommitDelay,
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger.With("component", "debounce"),
	}
}

// Begin enters edit mode on page with its current text. Beginning the page
// that is already being edited is a no-op.
func (g *Gate) Begin(page int, currentText string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Editing {
		if g.page == page {
			return nil
		}
		return ErrAlreadyEditing
	}
	g.state = Editing
	g.page = page
	g.pending = currentText
	g.resetIdleLocked()
	g.logger.Debug("editing started", "page", page)
	return nil
}

// Keystroke records the latest text and restarts both timers.
func (g *Gate) Keystroke(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Editing {
		return ErrNotEditing
	}
	g.pending = text
	g.resetCommitLocked()
	g.resetIdleLocked()
	return nil
}

// Terminate commits text immediately, without its trailing terminator, and
// returns to Viewing. It waits for an in-flight settled commit to finish
// first.
func (g *Gate) Terminate(text string) error {
	g.mu.Lock()
	if g.state != Editing {
		g.mu.Unlock()
		return ErrNotEditing
	}
	page := g.page
	text = strings.TrimSuffix(text, Terminator)
	g.stopTimersLocked()
	g.state = Viewing
	g.pending = ""
	g.mu.Unlock()

	g.commitMu.Lock()
	defer g.commitMu.Unlock()
	g.logger.Debug("edit terminated", "page", page)
	g.commit(page, text)
	return nil
}

// Cancel leaves edit mode without committing.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopTimersLocked()
	g.state = Viewing
	g.pending = ""
}

// State returns the current mode, the page being edited and its pending text.
func (g *Gate) State() (State, int, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Viewing {
		return Viewing, -1, ""
	}
	return g.state, g.page, g.pending
}

func (g *Gate) resetCommitLocked() {
	if g.commitTimer != nil {
		g.commitTimer.Stop()
	}
	g.commitGen++
	gen := g.commitGen
	g.commitTimer = time.AfterFunc(g.commitDelay, func() { g.fireCommit(gen) })
}

func (g *Gate) resetIdleLocked() {
	if g.idleTimer != nil {
		g.idleTimer.Stop()
	}
	g.idleGen++
	gen := g.idleGen
	g.idleTimer = time.AfterFunc(g.idleTimeout, func() { g.fireIdle(gen) })
}

func (g *Gate) stopTimersLocked() {
	if g.commitTimer != nil {
		g.commitTimer.Stop()
		g.commitTimer = nil
	}
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
	g.commitGen++
	g.idleGen++
}

func (g *Gate) fireCommit(gen uint64) {
	g.commitMu.Lock()
	defer g.commitMu.Unlock()

	g.mu.Lock()
	if gen != g.commitGen || g.state != Editing {
		g.mu.Unlock()
		return
	}
	g.commitTimer = nil
	page, text := g.page, g.pending
	g.mu.Unlock()

	g.logger.Debug("edit settled", "page", page)
	g.commit(page, text)
}

func (g *Gate) fireIdle(gen uint64) {
	g.mu.Lock()
	if gen != g.idleGen || g.state != Editing {
		g.mu.Unlock()
		return
	}
	page := g.page
	if g.commitTimer != nil {
		g.commitTimer.Stop()
		g.commitTimer = nil
	}
	g.commitGen++
	g.idleTimer = nil
	g.state = Viewing
	g.pending = ""
	g.mu.Unlock()

	g.logger.Debug("editing idle, back to viewing", "page", page)
	if g.onIdle != nil {
		g.onIdle(page)
	}
}
