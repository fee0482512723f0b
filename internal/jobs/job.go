package jobs

import (
	"context"
	"fmt"
	"time"
)

// RegenerationJob asks for page PageIndex of book BookID to be illustrated
// against the book as it stood at Version. It is consumed at most once.
type RegenerationJob struct {
	BookID    string    `json:"book_id"`
	PageIndex int       `json:"page_index"`
	Version   int64     `json:"version"`
	NotBefore time.Time `json:"not_before"`
}

// ID identifies the job in logs.
func (j RegenerationJob) ID() string {
	return fmt.Sprintf("%s/%d@v%d", j.BookID, j.PageIndex, j.Version)
}

// Handler processes a job once it is due. Implementations must be safe for
// concurrent use; the scheduler calls Handle from every worker goroutine.
type Handler interface {
	Handle(ctx context.Context, job RegenerationJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job RegenerationJob) error

func (f HandlerFunc) Handle(ctx context.Context, job RegenerationJob) error {
	return f(ctx, job)
}

// Dispatcher accepts jobs for later execution.
type Dispatcher interface {
	Dispatch(job RegenerationJob)
}
