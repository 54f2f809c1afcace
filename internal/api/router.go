package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kalambet/linkreach/internal/outreach"
	"github.com/kalambet/linkreach/internal/ratelimit"
	"github.com/kalambet/linkreach/internal/storage"
)

const (
	ServiceName = "LinkedIn Auto-Networker Backend"
	Version     = "1.0.0"
)

// MessageGenerator drafts connection messages. *outreach.Generator is the
// production implementation.
type MessageGenerator interface {
	Generate(ctx context.Context, p outreach.Profile) string
	GenerateBatch(ctx context.Context, profiles []outreach.Profile, limit int) []string
}

// Deps holds everything the HTTP and MCP layers need.
type Deps struct {
	Store     *storage.Store
	Generator MessageGenerator
	Window    ratelimit.Window
	Clients   *ratelimit.ClientLimiter // optional; nil disables per-client limiting
	Logger    *zap.Logger
	// Provider names the configured text provider, empty when generation
	// runs on templates only.
	Provider string
	// BatchConcurrency caps concurrent provider calls for batch generation.
	BatchConcurrency int
	Now              func() time.Time
}

func (d *Deps) setDefaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Window == nil {
		d.Window = ratelimit.NewMemoryWindow(ratelimit.DefaultLimit, ratelimit.DefaultPeriod)
	}
}

// NewRouter returns the HTTP API consumed by the browser extension.
func NewRouter(deps Deps) http.Handler {
	deps.setDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions))
	if deps.Clients != nil {
		r.Use(deps.Clients.Middleware)
	}

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", handleStatus(deps))
		api.Post("/collect-profiles", handleCollectProfiles(deps))
		api.Get("/get-profiles", handleGetProfiles(deps))
		api.Post("/record-connection", handleRecordConnection(deps))
		api.Get("/connections", handleListConnections(deps))
		api.Post("/generate-message", handleGenerateMessage(deps))
		api.Post("/generate-messages", handleGenerateMessages(deps))
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"service": ServiceName,
		"version": Version,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Status is a point-in-time summary of collection and outreach progress.
type Status struct {
	Status               string  `json:"status"`
	ProfilesCollected    int     `json:"profiles_collected"`
	ConnectionsSent      int     `json:"connections_sent"`
	// ConnectionsLastHour counts logged connections, which can differ from
	// the window after a restart of the in-memory backend.
	ConnectionsLastHour  int     `json:"connections_last_hour"`
	ConnectionsRemaining int     `json:"connections_remaining"`
	ConnectionsPerHour   int     `json:"connections_per_hour"`
	Provider             string  `json:"provider"`
	Timestamp            float64 `json:"timestamp"`
}

func collectStatus(ctx context.Context, deps Deps) (Status, error) {
	profiles, err := deps.Store.CountProfiles()
	if err != nil {
		return Status{}, fmt.Errorf("counting profiles: %w", err)
	}
	connections, err := deps.Store.CountConnections()
	if err != nil {
		return Status{}, fmt.Errorf("counting connections: %w", err)
	}
	lastHour, err := deps.Store.CountConnectionsSince(deps.Now().Add(-time.Hour))
	if err != nil {
		return Status{}, fmt.Errorf("counting recent connections: %w", err)
	}
	remaining, err := deps.Window.Remaining(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading rate window: %w", err)
	}

	provider := deps.Provider
	if provider == "" {
		provider = "templates"
	}
	return Status{
		Status:               "online",
		ProfilesCollected:    profiles,
		ConnectionsSent:      connections,
		ConnectionsLastHour:  lastHour,
		ConnectionsRemaining: remaining,
		ConnectionsPerHour:   deps.Window.Limit(),
		Provider:             provider,
		Timestamp:            float64(deps.Now().UnixNano()) / 1e9,
	}, nil
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := collectStatus(r.Context(), deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
