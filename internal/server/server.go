package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/config"
	"github.com/jackzampolin/picturebook/internal/defra"
	"github.com/jackzampolin/picturebook/internal/home"
	"github.com/jackzampolin/picturebook/internal/illustrate"
	"github.com/jackzampolin/picturebook/internal/jobs"
	"github.com/jackzampolin/picturebook/internal/jobs/regenerate"
	"github.com/jackzampolin/picturebook/internal/llmcall"
	"github.com/jackzampolin/picturebook/internal/metrics"
	"github.com/jackzampolin/picturebook/internal/providers"
	"github.com/jackzampolin/picturebook/internal/schema"
	"github.com/jackzampolin/picturebook/internal/server/endpoints"
	"github.com/jackzampolin/picturebook/internal/story"
	"github.com/jackzampolin/picturebook/internal/svcctx"
)

// DefaultCallLogSize bounds the in-memory provider call history.
const DefaultCallLogSize = 500

// Server is the main Picturebook HTTP server.
// It owns the book store, the regeneration scheduler and, for the defra
// backend, the DefraDB container lifecycle.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	registry     *providers.Registry
	configMgr    *config.Manager
	settings     *config.Config
	home         *home.Dir
	logger       *slog.Logger

	// services holds all core services for context enrichment; nil until Start
	// has opened the store.
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home holds the sqlite file, badger directory, defra data and images.
	Home *home.Dir
	// DefraConfig holds DefraDB container settings for the defra backend.
	// Unset fields are filled from the config file's defra section.
	DefraConfig defra.DockerConfig
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Settings is used when ConfigManager is nil. Defaults to config.DefaultConfig().
	Settings *config.Config
	// Registry replaces the provider registry built from config.
	Registry *providers.Registry
	// AllowAnyOrigin disables the websocket origin check for edit sessions.
	AllowAnyOrigin bool
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}

	settings := cfg.Settings
	if cfg.ConfigManager != nil {
		settings = cfg.ConfigManager.Get()
	}
	if settings == nil {
		settings = config.DefaultConfig()
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		settings:  settings,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	if settings.Store.Backend == book.BackendDefra {
		dc := cfg.DefraConfig
		if dc.DataPath == "" {
			dc.DataPath = cfg.Home.DataPath()
		}
		if dc.HomePath == "" {
			dc.HomePath = cfg.Home.Path()
		}
		if dc.ContainerName == "" {
			dc.ContainerName = settings.Defra.ContainerName
		}
		if dc.Image == "" {
			dc.Image = settings.Defra.Image
		}
		if dc.HostPort == "" {
			dc.HostPort = settings.Defra.Port
		}
		defraManager, err := defra.NewDockerManager(dc)
		if err != nil {
			return nil, fmt.Errorf("failed to create defra manager: %w", err)
		}
		s.defraManager = defraManager
	}

	// Create provider registry
	s.registry = cfg.Registry
	if s.registry == nil {
		s.registry = providers.NewRegistryFromConfig(settings.ToProviderRegistryConfig(), cfg.Logger)

		// Watch for config changes
		if cfg.ConfigManager != nil {
			cfg.ConfigManager.OnChange(func(c *config.Config) {
				s.registry.Reload(c.ToProviderRegistryConfig())
				cfg.Logger.Info("provider registry reloaded from config")
			})
		}
	}

	handler := s.buildHandler(endpoints.Config{
		DefraManager:   s.defraManager,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
	})

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the book store, starts the regeneration workers and serves
// HTTP. It blocks until the context is cancelled or an error occurs.
// For the defra backend it starts DefraDB first, validating any existing
// container against the configuration.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	if err := s.home.EnsureExists(); err != nil {
		return err
	}

	defraClient, err := s.startDefra(ctx)
	if err != nil {
		s.stopDefra()
		return err
	}

	store, err := book.Open(ctx, book.OpenConfig{
		Backend:     s.settings.Store.Backend,
		SQLitePath:  s.storePath(s.settings.Store.SQLitePath, s.home.SQLitePath()),
		BadgerPath:  s.storePath(s.settings.Store.BadgerPath, s.home.BadgerPath()),
		DefraClient: defraClient,
		Logger:      s.logger,
	})
	if err != nil {
		s.stopDefra()
		return fmt.Errorf("failed to open book store: %w", err)
	}
	s.logger.Info("book store ready", "backend", s.settings.Store.Backend)

	services, scheduler, err := s.buildServices(store, defraClient)
	if err != nil {
		_ = store.Close()
		s.stopDefra()
		return err
	}
	s.setServices(services)

	g, gctx := errgroup.WithContext(ctx)
	s.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	runErr := g.Wait()

	s.setServices(nil)
	if err := store.Close(); err != nil {
		s.logger.Error("book store close error", "error", err)
	}
	s.stopDefra()
	s.logger.Info("server stopped")
	return runErr
}

// startDefra starts the DefraDB container and applies schemas when the defra
// backend is configured. It returns nil for every other backend.
func (s *Server) startDefra(ctx context.Context) (*defra.Client, error) {
	if s.defraManager == nil {
		return nil, nil
	}

	if err := s.defraManager.ValidateExisting(ctx); err != nil {
		return nil, fmt.Errorf("existing DefraDB container incompatible: %w", err)
	}

	s.logger.Info("starting DefraDB")
	if err := s.defraManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start DefraDB: %w", err)
	}

	client := defra.NewClient(s.defraManager.URL())
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, client, s.logger); err != nil {
		return nil, fmt.Errorf("schema initialization failed: %w", err)
	}
	return client, nil
}

func (s *Server) stopDefra() {
	if s.defraManager == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(ctx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}
}

// buildServices wires the illustration pipeline, worker, scheduler and
// coordinator around store.
func (s *Server) buildServices(store book.Store, defraClient *defra.Client) (*svcctx.Services, *jobs.Scheduler, error) {
	settings := s.settings
	timing := settings.Timing()

	calls := llmcall.NewLog(DefaultCallLogSize)
	m := metrics.New()

	images, err := illustrate.NewDirStore(s.home.ImagesPath(), "/images/")
	if err != nil {
		return nil, nil, err
	}

	imageSize := ""
	if p, ok := settings.GetImageProvider(settings.Defaults.ImageProvider); ok {
		imageSize = p.Size
	}

	pipeline, err := illustrate.NewService(illustrate.Config{
		Registry:      s.registry,
		LLMProvider:   settings.Defaults.LLMProvider,
		ImageProvider: settings.Defaults.ImageProvider,
		ImageSize:     imageSize,
		Structured:    settings.Defaults.Structured,
		Images:        images,
		Recorder:      m.NewRecorder(calls),
		Logger:        s.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create illustration service: %w", err)
	}

	worker := regenerate.New(regenerate.Config{
		Store:    store,
		Pipeline: pipeline,
		Logger:   s.logger,
	})

	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
		Handler:   worker,
		Logger:    s.logger,
		Workers:   settings.Defaults.MaxWorkers,
		QueueSize: timing.QueueSize,
	})

	coord, err := story.New(story.Config{
		Store:      store,
		Dispatcher: scheduler,
		JobDelay:   timing.JobDelay,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	m.WatchScheduler(scheduler.Status)
	m.WatchWorker(worker.Stats)
	m.WatchLimiters(s.registry.LimiterStatus)

	return &svcctx.Services{
		Store:       store,
		Coordinator: coord,
		Scheduler:   scheduler,
		Worker:      worker,
		Registry:    s.registry,
		Calls:       calls,
		Metrics:     m,
		DefraClient: defraClient,
		Home:        s.home,
		Logger:      s.logger,
		Session: svcctx.SessionTiming{
			CommitDelay:  timing.CommitDelay,
			IdleTimeout:  timing.IdleTimeout,
			PollInterval: timing.PollInterval,
		},
	}, scheduler, nil
}

// storePath prefers an explicit config path over the home default.
func (s *Server) storePath(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (s *Server) setServices(services *svcctx.Services) {
	s.mu.Lock()
	s.services = services
	s.mu.Unlock()
}

func (s *Server) getServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Services returns the running services, or nil before Start has opened the store.
func (s *Server) Services() *svcctx.Services {
	return s.getServices()
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Endpoints returns the endpoint registry, used to build the api CLI.
func (s *Server) Endpoints() *api.Registry {
	return s.endpointRegistry
}

// Close releases the Docker client held for the defra backend.
func (s *Server) Close() error {
	if s.defraManager == nil {
		return nil
	}
	return s.defraManager.Close()
}
