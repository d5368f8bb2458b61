// Package www serves the maintenance surface: a JSON API plus an SSE
// stream for a laptop on the bench or at the site. It is optional and
// normally disabled in field deployments to save power.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldgate/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE (no auth, read-only event stream)
	r.Get("/events", h.eventHub.HandleSSE)

	// Login/logout/first-run setup
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/setup-required", h.apiSetupRequired)
	r.Post("/setup", h.apiSetup)

	r.Route("/api", func(r chi.Router) {
		// Read-only status (no auth, same trust level as SSE)
		r.Get("/status", h.apiStatus)

		// Everything that touches history, config or the scheduler
		// needs an admin session.
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)

			r.Get("/queue", h.apiQueue)

			r.Get("/history/nodes", h.apiNodeHistory)
			r.Get("/history/status", h.apiStatusHistory)
			r.Get("/history/sync", h.apiSyncLog)
			r.Get("/history/drains", h.apiDrainLog)

			r.Get("/config", h.apiGetConfig)
			r.Put("/config/roster", h.apiUpdateRoster)
			r.Put("/config/intervals", h.apiUpdateIntervals)
			r.Post("/config/password", h.apiChangePassword)

			r.Post("/trigger/acquisition", h.apiTriggerAcquisition)
			r.Post("/trigger/drain", h.apiTriggerDrain)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := h.sessions.getUser(r)
		if !ok || username == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
