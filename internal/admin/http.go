package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
)

const gracefulShutdownTimeout = 10 * time.Second

// ClientLister is the read side of the client registry.
type ClientLister interface {
	List(ctx context.Context) ([]*database.ClientRecord, error)
}

type Server struct {
	responder *Responder
	clients   ClientLister
	gatherer  prometheus.Gatherer
}

func NewServer(responder *Responder, clients ClientLister, gatherer prometheus.Gatherer) *Server {
	return &Server{responder: responder, clients: clients, gatherer: gatherer}
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status/"+VersionKey, s.handleVersion)
	r.Get("/clients", s.handleClients)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.responder.Version(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.responder.Version()))
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	records, err := s.clients.List(r.Context())
	if err != nil {
		logger.WarnF("Admin: fail to list clients: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: http.StatusInternalServerError, Message: "client registry unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Serve serves the admin API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnF("Admin HTTP shutdown error: %v", err)
		}
	})
	defer stop()

	logger.InfoF("Admin HTTP Listen On %s", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
