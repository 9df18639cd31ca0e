package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/tee-scheduler/internal/auth"
	"github.com/example/tee-scheduler/internal/engine"
	"github.com/example/tee-scheduler/internal/infrastructure/postgres"
	"github.com/example/tee-scheduler/internal/telemetry"
)

// Controller is the slice of the engine the control API drives.
type Controller interface {
	Pause()
	Resume()
	TriggerNow(ctx context.Context) error
	Status() engine.JobStatus
	Metrics(ctx context.Context) (engine.Metrics, error)
}

// History reads back the recorded attempt log. Nil when no database is
// configured.
type History interface {
	RecentAttempts(ctx context.Context, limit int) ([]postgres.Attempt, error)
}

// Server is the operator-facing control surface.
type Server struct {
	eng      Controller
	history  History
	sessions *auth.Sessions
	log      zerolog.Logger
}

func NewServer(eng Controller, history History, sessions *auth.Sessions, log zerolog.Logger) *Server {
	return &Server{eng: eng, history: history, sessions: sessions, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.RequireAuth)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/metrics", s.handleMetrics)
		r.Post("/api/pause", s.handlePause)
		r.Post("/api/resume", s.handleResume)
		r.Post("/api/trigger", s.handleTrigger)
		r.Get("/api/attempts", s.handleAttempts)
	})

	return r
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if !s.sessions.Check(req.Password) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("failed operator login")
		http.Error(w, `{"error":"invalid password"}`, http.StatusUnauthorized)
		return
	}
	if err := s.sessions.SetSession(w, r); err != nil {
		http.Error(w, `{"error":"session error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.eng.Metrics(r.Context())
	if err != nil {
		http.Error(w, `{"error":"metrics unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.eng.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.eng.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.TriggerNow(r.Context()); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempts": []postgres.Attempt{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := s.history.RecentAttempts(r.Context(), limit)
	if err != nil {
		http.Error(w, `{"error":"history unavailable"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("control API listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
