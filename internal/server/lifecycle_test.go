package server

import (
	"context"
	"testing"
	"time"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/defra"
	"github.com/jackzampolin/picturebook/internal/server/endpoints"
	"github.com/jackzampolin/picturebook/internal/testutil"
)

// TestServer_DefraLifecycle runs the server on the defra backend, which
// starts a DefraDB container. Requires Docker.
func TestServer_DefraLifecycle(t *testing.T) {
	_ = testutil.DockerClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	defraPort, err := testutil.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	settings := memorySettings()
	settings.Store.Backend = book.BackendDefra

	srv, err := New(Config{
		Port:     port,
		Home:     testHome(t),
		Settings: settings,
		Registry: mockRegistry(),
		DefraConfig: defra.DockerConfig{
			ContainerName: testutil.UniqueContainerName(t, "server"),
			HostPort:      defraPort,
			Labels:        testutil.ContainerLabels(t),
			ReadyTimeout:  90 * time.Second,
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()

	serverCtx, serverCancel := context.WithCancel(ctx)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	baseURL := "http://127.0.0.1:" + port
	if err := waitForServer(ctx, baseURL, 2*time.Minute); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}
	client := api.NewClient(baseURL)

	t.Run("ready_reports_defra", func(t *testing.T) {
		var ready endpoints.HealthResponse
		deadline := time.Now().Add(30 * time.Second)
		for {
			err := client.Get(ctx, "/ready", &ready)
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("GET /ready: %v", err)
			}
			time.Sleep(200 * time.Millisecond)
		}
		if ready.Defra != "ok" {
			t.Errorf("ready.Defra = %q, want ok", ready.Defra)
		}
	})

	t.Run("status_reports_container", func(t *testing.T) {
		var status endpoints.StatusResponse
		if err := client.Get(ctx, "/status", &status); err != nil {
			t.Fatal(err)
		}
		if status.Defra == nil || status.Defra.Container != string(defra.StatusRunning) {
			t.Errorf("defra status = %+v, want running", status.Defra)
		}
	})

	t.Run("commit_round_trip", func(t *testing.T) {
		var b book.Book
		if err := client.Post(ctx, "/api/books", endpoints.CreateBookRequest{Title: "Defra"}, &b); err != nil {
			t.Fatalf("create: %v", err)
		}
		var commit endpoints.CommitPageResponse
		if err := client.Put(ctx, "/api/books/"+b.ID+"/pages/0", endpoints.CommitPageRequest{Text: "A dog"}, &commit); err != nil {
			t.Fatalf("commit: %v", err)
		}
		var got book.Book
		if err := client.Get(ctx, "/api/books/"+b.ID, &got); err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Version != commit.Version || got.Pages[0].Text != "A dog" {
			t.Errorf("book = v%d %+v", got.Version, got.Pages)
		}
	})

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(time.Minute):
		t.Fatal("server did not stop")
	}
}
