// Package service hosts the sidecar HTTP endpoints: a liveness check on one
// port and Prometheus metrics on another.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/testadapt/testadapt/metrics"
)

const (
	DefaultHealthzAddr = "0.0.0.0:8080"
	DefaultMetricsAddr = "0.0.0.0:7300"

	shutdownTimeout = 5 * time.Second
)

// Config carries the listen addresses. Zero values fall back to the
// defaults above.
type Config struct {
	Log         log.Logger
	HealthzAddr string
	MetricsAddr string
}

// Service owns both HTTP servers for the lifetime of the process.
type Service struct {
	log     log.Logger
	healthz *http.Server
	metrics *http.Server
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.HealthzAddr == "" {
		cfg.HealthzAddr = DefaultHealthzAddr
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}

	healthzMux := http.NewServeMux()
	healthzMux.HandleFunc("/healthz", healthzHandler(cfg.Log))
	crossOrigin := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	return &Service{
		log:     cfg.Log,
		healthz: &http.Server{Addr: cfg.HealthzAddr, Handler: crossOrigin.Handler(healthzMux)},
		metrics: &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux},
	}
}

func healthzHandler(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("Health check", "path", r.URL.Path)
		w.Write([]byte("OK")) //nolint:errcheck
	}
}

// Start serves both endpoints in the background. A failed listener is logged
// and recorded, never fatal to the run itself.
func (s *Service) Start() {
	go s.serve("healthz", s.healthz)
	go s.serve("metrics", s.metrics)
}

func (s *Service) serve(name string, srv *http.Server) {
	s.log.Info("Serving "+name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("Server failed", "server", name, "err", err)
		metrics.RecordErrorDetails(name+"_server", err)
	}
}

// Shutdown stops both servers, waiting briefly for in-flight requests.
func (s *Service) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(s.healthz.Shutdown(ctx), s.metrics.Shutdown(ctx))
}
