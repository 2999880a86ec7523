// Package monitor serves the read-only operational surface: health,
// metrics, engine state and the websocket event feed.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/ops"
	"github.com/flowhawk/flowhawk/internal/persistence"
	"github.com/flowhawk/flowhawk/internal/telemetry"
)

// HealthProbe checks one dependency for the /health payload.
type HealthProbe struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server is the monitor HTTP surface.
type Server struct {
	cfg     config.MonitorConfig
	repo    *persistence.Repository
	state   *ops.State
	metrics *telemetry.Metrics
	hub     *Hub
	probes  []HealthProbe
	http    *http.Server
	logger  zerolog.Logger
}

func NewServer(cfg config.MonitorConfig, repo *persistence.Repository, state *ops.State, metrics *telemetry.Metrics, events *bus.Bus) *Server {
	s := &Server{
		cfg:     cfg,
		repo:    repo,
		state:   state,
		metrics: metrics,
		hub:     NewHub(events),
		logger:  log.With().Str("component", "monitor").Logger(),
	}

	router := mux.NewRouter()
	router.Use(requestID, accessLog)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/api/ops", s.handleOps).Methods(http.MethodGet)
	router.HandleFunc("/api/ops/ack", s.handleAck).Methods(http.MethodPost)
	router.Handle("/ws/events", s.hub).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}
	return s
}

// AddProbe registers a health dependency.
func (s *Server) AddProbe(probe HealthProbe) {
	s.probes = append(s.probes, probe)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("monitor listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	WSClients int               `json:"ws_clients"`
	Workers   int               `json:"workers"`
	CheckedAt time.Time         `json:"checked_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Healthy:   true,
		Checks:    make(map[string]string, len(s.probes)),
		WSClients: s.hub.ClientCount(),
		CheckedAt: time.Now().UTC(),
	}

	for _, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := probe.Ping(probeCtx)
		cancel()
		if err != nil {
			resp.Healthy = false
			resp.Checks[probe.Name] = err.Error()
		} else {
			resp.Checks[probe.Name] = "ok"
		}
	}

	if workers, err := s.repo.Heartbeats.ListLive(r.Context(), time.Now().Add(-2*time.Minute)); err == nil {
		resp.Workers = len(workers)
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type opsResponse struct {
	State      ops.Snapshot             `json:"state"`
	Unacked    []map[string]interface{} `json:"unacked_critical"`
	ScanRanges interface{}              `json:"scan_ranges,omitempty"`
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	resp := opsResponse{State: s.state.Snapshot()}

	if critical, err := s.repo.SystemEvents.ListUnackedCritical(r.Context()); err == nil {
		for _, ev := range critical {
			resp.Unacked = append(resp.Unacked, map[string]interface{}{
				"id":             ev.ID,
				"component":      ev.Component,
				"message":        ev.Message,
				"correlation_id": ev.CorrelationID,
				"created_at":     ev.CreatedAt,
			})
		}
	}
	if ranges, err := s.repo.ScanRanges.List(r.Context()); err == nil {
		resp.ScanRanges = ranges
	}
	writeJSON(w, http.StatusOK, resp)
}

type ackRequest struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
}

// handleAck clears one critical event and its engine-state pending ack.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if req.EventID == "" && req.CorrelationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_id or correlation_id required"})
		return
	}

	if req.EventID != "" {
		if err := s.repo.SystemEvents.Ack(r.Context(), req.EventID); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown event"})
			return
		}
	}
	cleared := false
	if req.CorrelationID != "" {
		cleared = s.state.Ack(req.CorrelationID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acked":         true,
		"state_cleared": cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
