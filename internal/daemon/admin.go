package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/pkg/cron"
	"github.com/rs/zerolog"
)

// AdminDeps are the probes the admin endpoints report on. Nil fields are
// skipped.
type AdminDeps struct {
	Ping     func(ctx context.Context) error
	Jobs     func() []cron.Job
	Sessions func() int
	Running  func() bool
}

// AdminServer serves health, metrics and job state on a private address.
type AdminServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewAdminRouter builds the admin routes.
func NewAdminRouter(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{"status": "ok"}
		status := http.StatusOK
		if deps.Running != nil {
			body["bot_running"] = deps.Running()
		}
		if deps.Sessions != nil {
			body["sessions"] = deps.Sessions()
		}
		if deps.Ping != nil {
			if err := deps.Ping(ctx); err != nil {
				body["status"] = "degraded"
				body["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	})

	r.Handle("/metrics", observability.MetricsHandler())

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var jobs []cron.Job
		if deps.Jobs != nil {
			jobs = deps.Jobs()
		}
		out := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, map[string]any{
				"id":                 j.ID,
				"name":               j.Name,
				"next_run_at":        j.State.NextRunAt,
				"last_run_at":        j.State.LastRunAt,
				"last_status":        j.State.LastStatus,
				"last_error":         j.State.LastError,
				"consecutive_errors": j.State.ConsecutiveErrors,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})
	return r
}

// NewAdminServer creates the listener; call Start to serve.
func NewAdminServer(addr string, deps AdminDeps, logger zerolog.Logger) *AdminServer {
	return &AdminServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewAdminRouter(deps),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With().Str("component", "admin").Logger(),
	}
}

// Start binds the address and serves in the background.
func (a *AdminServer) Start() error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return err
	}
	go func() {
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("Admin server listening")
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

func (a *AdminServer) Stop(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
