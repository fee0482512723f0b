package schema

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jackzampolin/picturebook/internal/defra"
)

func TestAll(t *testing.T) {
	schemas, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(schemas) != len(registry) {
		t.Fatalf("expected %d schemas, got %d", len(registry), len(schemas))
	}

	for i, s := range schemas {
		if s.SDL == "" {
			t.Errorf("%s schema SDL is empty", s.Name)
		}
		if !strings.Contains(s.SDL, "type "+s.Name) {
			t.Errorf("%s schema SDL doesn't declare its type", s.Name)
		}
		if i > 0 && schemas[i-1].Order > s.Order {
			t.Errorf("schemas out of order at %d", i)
		}
	}
}

func TestGet(t *testing.T) {
	t.Run("existing schema", func(t *testing.T) {
		s, err := Get("Story")
		if err != nil {
			t.Fatalf("Get(Story) error = %v", err)
		}
		for _, field := range []string{"title", "version", "created_at", "pages_json"} {
			if !strings.Contains(s.SDL, field) {
				t.Errorf("Story schema missing field %s", field)
			}
		}
	})

	t.Run("non-existent schema", func(t *testing.T) {
		if _, err := Get("NonExistent"); err == nil {
			t.Error("expected error for non-existent schema")
		}
	})
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"success", http.StatusOK, "", false},
		{"already exists", http.StatusBadRequest, "collection already exists. Name: Story", false},
		{"syntax error", http.StatusBadRequest, "invalid schema syntax", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v0/schema" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := Initialize(context.Background(), defra.NewClient(server.URL), slog.Default())
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls.Load() == 0 {
				t.Error("schema endpoint was never called")
			}
		})
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"already exists", errWithMsg("collection already exists. Name: Story"), true},
		{"other error", errWithMsg("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAlreadyExistsError(tt.err); got != tt.want {
				t.Errorf("isAlreadyExistsError() = %v, want %v", got, tt.want)
			}
		})
	}
}

type errWithMsg string

func (e errWithMsg) Error() string { return string(e) }
