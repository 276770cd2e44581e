// Package dashboard serves the web UI and the JSON API over the
// monitor's published reports. All state it exposes comes from the
// orchestrator; the dashboard itself is stateless apart from websocket
// sessions.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nodewatch/nodewatch/internal/auth"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// Controller is the monitor surface the dashboard drives.
type Controller interface {
	CurrentReport() *model.ClusterReport
	RunCycle(ctx context.Context) (*model.ClusterReport, error)
}

// Server hosts the dashboard HTTP endpoints.
type Server struct {
	cfg     config.DashboardConfig
	ctrl    Controller
	authSvc *auth.Service
	hub     *hub
	logger  *slog.Logger
}

// New creates the dashboard server. The auth service is only built
// when authentication is enabled in the configuration.
func New(cfg config.DashboardConfig, ctrl Controller, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		hub:    newHub(logger),
		logger: logger.With("component", "dashboard"),
	}
	if cfg.AuthEnabled {
		s.authSvc = auth.NewService(cfg.JWTSecret, cfg.Username, cfg.Password, cfg.GetJWTExpiry())
	}
	return s
}

// Router assembles the chi router with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)
	r.Post("/api/v1/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		if s.authSvc != nil {
			r.Use(jwtAuth(s.authSvc))
		}
		r.Get("/api/v1/report", s.handleReport)
		r.Get("/api/v1/nodes/{name}", s.handleNode)
		r.Post("/api/v1/check", s.handleCheck)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// Run serves until the context is canceled, then shuts down
// gracefully. The report channel feeds the websocket hub.
func (s *Server) Run(ctx context.Context, reports <-chan *model.ClusterReport) error {
	go s.hub.run(ctx, reports)

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", srv.Addr, "auth", s.authSvc != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.authSvc == nil {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.authSvc.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	report := s.ctrl.CurrentReport()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, "no report available yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	report := s.ctrl.CurrentReport()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, "no report available yet")
		return
	}

	name := chi.URLParam(r, "name")
	node, ok := report.Node(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleCheck triggers an immediate cycle and returns its report.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "check cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.serveWS(w, r, s.ctrl.CurrentReport())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
