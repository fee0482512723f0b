// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/defra"
	"github.com/jackzampolin/picturebook/internal/home"
	"github.com/jackzampolin/picturebook/internal/jobs"
	"github.com/jackzampolin/picturebook/internal/jobs/regenerate"
	"github.com/jackzampolin/picturebook/internal/llmcall"
	"github.com/jackzampolin/picturebook/internal/metrics"
	"github.com/jackzampolin/picturebook/internal/providers"
	"github.com/jackzampolin/picturebook/internal/story"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store       book.Store
	Coordinator *story.Coordinator
	Scheduler   *jobs.Scheduler
	Worker      *regenerate.Worker
	Registry    *providers.Registry
	Calls       *llmcall.Log
	Metrics     *metrics.Metrics
	DefraClient *defra.Client
	Home        *home.Dir
	Logger      *slog.Logger
	Session     SessionTiming
}

// SessionTiming configures live edit sessions.
type SessionTiming struct {
	CommitDelay  time.Duration
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the book store from context.
func StoreFrom(ctx context.Context) book.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// CoordinatorFrom extracts the edit coordinator from context.
func CoordinatorFrom(ctx context.Context) *story.Coordinator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Coordinator
	}
	return nil
}

// SchedulerFrom extracts the scheduler from context.
func SchedulerFrom(ctx context.Context) *jobs.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// WorkerFrom extracts the regeneration worker from context.
func WorkerFrom(ctx context.Context) *regenerate.Worker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Worker
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// CallsFrom extracts the provider call log from context.
func CallsFrom(ctx context.Context) *llmcall.Log {
	if s := ServicesFrom(ctx); s != nil {
		return s.Calls
	}
	return nil
}

// MetricsFrom extracts the Prometheus metrics from context.
func MetricsFrom(ctx context.Context) *metrics.Metrics {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// DefraClientFrom extracts the DefraDB client from context.
// Nil unless the defra backend is in use.
func DefraClientFrom(ctx context.Context) *defra.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraClient
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// LoggerFrom extracts the logger from context.
// Falls back to slog.Default so handlers can log unconditionally.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SessionTimingFrom extracts live session timing from context.
func SessionTimingFrom(ctx context.Context) SessionTiming {
	if s := ServicesFrom(ctx); s != nil {
		return s.Session
	}
	return SessionTiming{}
}
