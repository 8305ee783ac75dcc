package httpapi

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the pida HTTP API.
//
// Route layout:
//
//	GET  /healthz                          – liveness probe, no auth
//	GET  /api/status                       – agent + websocket status
//	GET  /api/timeline                     – paginated event query
//	GET  /api/timeline/{event_id}          – single event lookup
//	GET  /api/alerts                       – paginated alert query
//	GET  /api/alerts/{alert_id}            – single alert lookup
//	POST /api/alerts/{alert_id}/acknowledge
//	POST /api/alerts/{alert_id}/snooze
//	GET  /api/config/folders
//	POST /api/config/folders
//	GET  /api/config/away-windows
//	POST /api/config/away-windows
//	GET  /api/config/alerts
//	POST /api/config/alerts
//
// pubKey enables RS256 Bearer-token auth on every /api route when non-nil;
// pass nil to leave the API open (the default for a localhost-bound agent).
// corsOrigins, when non-empty, enables CORSMiddleware for the browser-facing
// dashboard use case.
func NewRouter(srv *Server, pubKey *rsa.PublicKey, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(CORSMiddleware(corsOrigins))
	}

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		// adminOnly gates routes that mutate alert/config state behind the
		// "admin" role claim. With auth disabled (pubKey == nil) there are
		// no claims to check, so the gate is a no-op, matching the rest of
		// this route group's open-by-default behavior.
		adminOnly := func(h http.HandlerFunc) http.HandlerFunc {
			if pubKey == nil {
				return h
			}
			return RequireRole(RoleAdmin)(h).ServeHTTP
		}

		r.Get("/status", srv.handleGetStatus)

		r.Get("/timeline", srv.handleGetTimeline)
		r.Get("/timeline/{event_id}", srv.handleGetTimelineEvent)

		r.Get("/alerts", srv.handleGetAlerts)
		r.Get("/alerts/{alert_id}", srv.handleGetAlert)
		r.Post("/alerts/{alert_id}/acknowledge", adminOnly(srv.handleAcknowledgeAlert))
		r.Post("/alerts/{alert_id}/snooze", adminOnly(srv.handleSnoozeAlert))

		r.Get("/config/folders", srv.handleGetFolders)
		r.Post("/config/folders", adminOnly(srv.handleSetFolders))
		r.Get("/config/away-windows", srv.handleGetAwayWindows)
		r.Post("/config/away-windows", adminOnly(srv.handleSetAwayWindows))
		r.Get("/config/alerts", srv.handleGetAlertConfig)
		r.Post("/config/alerts", adminOnly(srv.handleSetAlertConfig))
	})

	return r
}
