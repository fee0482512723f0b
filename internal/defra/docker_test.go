package defra

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/picturebook/internal/testutil"
)

func TestGenerateContainerName(t *testing.T) {
	tests := []struct {
		name     string
		homePath string
		want     string
	}{
		{"typical home path", "/home/user/.picturebook", "picturebook-defra-3e9b1853"},
		{"different home path", "/Users/john/.picturebook", "picturebook-defra-f400577e"},
		{"empty path", "", "picturebook-defra-e3b0c442"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateContainerName(tt.homePath)
			if !strings.HasPrefix(got, ContainerNamePrefix) {
				t.Errorf("GenerateContainerName() = %q, want prefix %q", got, ContainerNamePrefix)
			}
			if got != tt.want {
				t.Errorf("GenerateContainerName(%q) = %q, want %q", tt.homePath, got, tt.want)
			}
		})
	}
}

func TestNewDockerManager_ContainerNaming(t *testing.T) {
	tests := []struct {
		name string
		cfg  DockerConfig
		want string
	}{
		{"explicit name wins", DockerConfig{ContainerName: "custom", HomePath: "/h"}, "custom"},
		{"derived from home", DockerConfig{HomePath: "/home/user/.picturebook"}, "picturebook-defra-3e9b1853"},
		{"default", DockerConfig{}, DefaultContainerName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewDockerManager(tt.cfg)
			if err != nil {
				t.Fatalf("NewDockerManager() error = %v", err)
			}
			defer mgr.Close()

			if mgr.ContainerName() != tt.want {
				t.Errorf("ContainerName() = %q, want %q", mgr.ContainerName(), tt.want)
			}
			if mgr.URL() != "http://localhost:"+DefaultPort {
				t.Errorf("URL() = %q", mgr.URL())
			}
		})
	}
}

func TestDockerManager_Integration(t *testing.T) {
	_ = testutil.DockerClient(t)

	ctx := context.Background()
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}

	mgr, err := NewDockerManager(DockerConfig{
		ContainerName: testutil.UniqueContainerName(t, "defra"),
		DataPath:      t.TempDir(),
		HostPort:      port,
		Labels:        testutil.ContainerLabels(t),
		ReadyTimeout:  60 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	defer mgr.Close()

	t.Run("Start", func(t *testing.T) {
		if err := mgr.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status != StatusRunning {
			t.Errorf("expected status running, got %s", status)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := NewClient(mgr.URL()).HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})

	t.Run("ValidateExisting", func(t *testing.T) {
		if err := mgr.ValidateExisting(ctx); err != nil {
			t.Errorf("ValidateExisting() error = %v", err)
		}
	})

	t.Run("Stop", func(t *testing.T) {
		if err := mgr.Stop(ctx); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		status, _ := mgr.Status(ctx)
		if status != StatusStopped {
			t.Errorf("expected status stopped, got %s", status)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := mgr.Remove(ctx); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		status, _ := mgr.Status(ctx)
		if status != StatusNotFound {
			t.Errorf("expected status not_found, got %s", status)
		}
		if _, err := mgr.Logs(ctx, "10"); err == nil {
			t.Error("expected error for logs of removed container")
		}
	})
}
