// Package rpc serves the executor's instrumentation surface: Prometheus
// metrics and a health endpoint.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"github.com/xexd/xexd/pkg/config"
	"github.com/xexd/xexd/pkg/log"
)

// Server exposes /metrics, /health and /status over HTTP.
type Server struct {
	cfg    *config.InstrumentationConfig
	logger log.Logger
	status func() any
}

// NewServer builds the instrumentation server. status may be nil, in which
// case /status is not registered.
func NewServer(cfg *config.InstrumentationConfig, logger log.Logger, status func() any) *Server {
	return &Server{cfg: cfg, logger: logger, status: status}
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if s.status != nil {
		router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(s.status())
		})
	}
	return cors.Default().Handler(router)
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	handler := s.routes()

	listener, err := net.Listen("tcp", s.cfg.PrometheusListenAddr)
	if err != nil {
		return err
	}
	if s.cfg.MaxOpenConnections != 0 {
		s.logger.Debug("limiting number of connections", "limit", s.cfg.MaxOpenConnections)
		listener = netutil.LimitListener(listener, s.cfg.MaxOpenConnections)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error while shutting down instrumentation server", "error", err)
		}
	}()

	s.logger.Info("serving instrumentation", "addr", listener.Addr().String())
	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
