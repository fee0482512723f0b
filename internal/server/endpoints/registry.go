package endpoints

import (
	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// DefraManager is set when the defra backend runs in a managed container.
	DefraManager *defra.DockerManager
	// AllowAnyOrigin disables the websocket origin check for edit sessions.
	AllowAnyOrigin bool
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},
		&MetricsEndpoint{},

		// Book endpoints
		&CreateBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&SessionEndpoint{InsecureSkipVerify: cfg.AllowAnyOrigin},

		// Page endpoints
		&CommitPageEndpoint{},
		&AddPageEndpoint{},
		&RegeneratePageEndpoint{},
		&ImageEndpoint{},

		// Provider call history
		&ListCallsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
