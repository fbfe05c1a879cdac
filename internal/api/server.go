// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api is the operator HTTP surface over the control plane.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/errors"
	"grimm.is/breakwater/internal/logging"
	"grimm.is/breakwater/internal/metrics"
)

// ServerConfig holds HTTP server hardening knobs.
type ServerConfig struct {
	Listen            string
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns secure defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:            ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Server handles operator API requests.
type Server struct {
	mgr    *controlplane.Manager
	cfg    *ServerConfig
	logger *logging.Logger
	router *mux.Router
	http   *http.Server
}

// NewServer creates the API server over a control-plane manager.
func NewServer(mgr *controlplane.Manager, cfg *ServerConfig, logger *logging.Logger) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = logging.WithComponent("api")
	}

	s := &Server{
		mgr:    mgr,
		cfg:    cfg,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.limitBody(s.router),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

func (s *Server) routes() {
	reg := prometheus.NewRegistry()
	if err := metrics.NewExporter(s.mgr).Register(reg); err != nil {
		s.logger.Error("Failed to register metrics exporter", "error", err)
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/enable", s.handleEnable).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/escalation", s.handleEscalation).Methods(http.MethodPut)

	v1.HandleFunc("/acl/{list}", s.handleACLAdd).Methods(http.MethodPost)
	v1.HandleFunc("/acl/{list}", s.handleACLRemove).Methods(http.MethodDelete)
	v1.HandleFunc("/threat-intel", s.handleThreatIntelAdd).Methods(http.MethodPost)
	v1.HandleFunc("/geoip", s.handleGeoIPAdd).Methods(http.MethodPost)

	v1.HandleFunc("/rates", s.handleRatesGet).Methods(http.MethodGet)
	v1.HandleFunc("/rates", s.handleRatesSet).Methods(http.MethodPut)

	v1.HandleFunc("/signatures", s.handleSignaturesGet).Methods(http.MethodGet)
	v1.HandleFunc("/signatures", s.handleSignatureSet).Methods(http.MethodPost)
	v1.HandleFunc("/signatures/count", s.handleSignatureCount).Methods(http.MethodPost)
	v1.HandleFunc("/signatures", s.handleSignaturesClear).Methods(http.MethodDelete)

	v1.HandleFunc("/payload-rules", s.handlePayloadRulesGet).Methods(http.MethodGet)
	v1.HandleFunc("/payload-rules", s.handlePayloadRuleSet).Methods(http.MethodPost)
	v1.HandleFunc("/payload-rules/count", s.handlePayloadRuleCount).Methods(http.MethodPost)
	v1.HandleFunc("/payload-rules", s.handlePayloadRulesClear).Methods(http.MethodDelete)

	v1.HandleFunc("/conntrack/flush", s.handleConntrackFlush).Methods(http.MethodPost)
	v1.HandleFunc("/countries/{code}", s.handleCountrySet).Methods(http.MethodPut)
	v1.HandleFunc("/countries/{code}", s.handleCountryDelete).Methods(http.MethodDelete)

	v1.HandleFunc("/gre", s.handleGREAdd).Methods(http.MethodPost)
	v1.HandleFunc("/gre", s.handleGRERemove).Methods(http.MethodDelete)
	v1.HandleFunc("/ports", s.handlePortRegister).Methods(http.MethodPost)

	v1.HandleFunc("/block", s.handleBlock).Methods(http.MethodPost)
	v1.HandleFunc("/unblock", s.handleUnblock).Methods(http.MethodPost)

	v1.HandleFunc("/events/ws", s.handleEventsWS).Methods(http.MethodGet)
}

// Router exposes the route table for tests.
func (s *Server) Router() http.Handler { return s.limitBody(s.router) }

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API listening", "addr", s.cfg.Listen)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, errors.Wrap(err, errors.KindValidation, "invalid request body"))
		return false
	}
	return true
}
