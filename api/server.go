/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the access log
  2. Access log: One zerolog line per request (method, path, status, latency)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the front desk and admin UIs

ROUTE GROUPS:
  /api/visits/*         Registration, cancellation, sign-in/out
  /api/persons/*        Person records, quota, standing
  /api/hosts/*          Host records and daily cap
  /api/admin/*          Scheduled jobs, run on demand
  /health               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a router with all routes configured. An empty
// origins list falls back to the local development origins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/visits", func(r chi.Router) {
			r.Post("/", h.RegisterVisit)
			r.Get("/{id}", h.GetVisit)
			r.Post("/{id}/cancel", h.CancelVisit)
			r.Post("/{id}/sign-in", h.SignIn)
			r.Post("/{id}/sign-out", h.SignOut)
		})

		r.Route("/persons", func(r chi.Router) {
			r.Get("/", h.ListPersons)
			r.Get("/{id}", h.GetPerson)
			r.Delete("/{id}", h.DeletePerson)
			r.Get("/{id}/visits", h.ListPersonVisits)
			r.Get("/{id}/quota", h.GetQuota)
			r.Put("/{id}/standing", h.SetStanding)
			r.Post("/{id}/recalculate", h.Recalculate)
		})

		r.Route("/hosts", func(r chi.Router) {
			r.Get("/{id}", h.GetHost)
			r.Put("/{id}", h.SaveHost)
			r.Post("/{id}/days/{date}/rebalance", h.RebalanceHostDay)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/auto-sign-out", h.AutoSignOut)
			r.Post("/sweep", h.Sweep)
			r.Post("/period-reset", h.PeriodReset)
			r.Post("/jobs/run", h.RunDueJobs)
			r.Get("/jobs/{kind}/runs", h.ListJobRuns)
		})
	})

	return r
}

// accessLog writes one structured line per request.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}
