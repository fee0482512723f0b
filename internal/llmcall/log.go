package llmcall

import (
	"sync"
)

// DefaultCapacity is the number of calls a Log keeps when none is given.
const DefaultCapacity = 500

// Recorder accepts finished calls.
type Recorder interface {
	Record(call *Call)
}

// Log keeps the most recent calls in memory, oldest evicted first.
type Log struct {
	mu    sync.Mutex
	calls []*Call
	next  int
	full  bool
}

// NewLog creates a log holding up to capacity calls.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{calls: make([]*Call, capacity)}
}

// Record stores call, evicting the oldest when full. Nil calls are ignored.
func (l *Log) Record(call *Call) {
	if call == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[l.next] = call
	l.next = (l.next + 1) % len(l.calls)
	if l.next == 0 {
		l.full = true
	}
}

// QueryFilter specifies filters for listing calls.
type QueryFilter struct {
	BookID string
	Kind   string
	// Success filters on outcome when set.
	Success *bool
	Limit   int
}

// Recent returns matching calls, newest first.
func (l *Log) Recent(filter QueryFilter) []Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.calls)
	}
	out := make([]Call, 0)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.calls)) % len(l.calls)
		c := l.calls[idx]
		if filter.BookID != "" && c.BookID != filter.BookID {
			continue
		}
		if filter.Kind != "" && c.Kind != filter.Kind {
			continue
		}
		if filter.Success != nil && c.Success != *filter.Success {
			continue
		}
		out = append(out, *c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of calls held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.calls)
	}
	return l.next
}

var _ Recorder = (*Log)(nil)
