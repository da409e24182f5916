// Package httpapi implements the hub's optional serve mode (spec.md §4.9
// ambient surface): a small HTTP server exposing /healthz, /metrics, and
// /reports for whatever is driving the session manager's per-leaf cron
// loops.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
	"github.com/jianglibo/bkoverssh/pkg/metrics"
	"github.com/jianglibo/bkoverssh/pkg/report"
)

// Options configures the server.
type Options struct {
	Addr            string
	ReportsPath     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Metrics is registered at /metrics. A nil value here falls back to a
	// fresh, empty metrics.Registry rather than the global default
	// Prometheus registry, so repeated NewServer calls in tests never
	// collide on metric registration.
	Metrics *metrics.Registry
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = ":8080"
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 15 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	return o
}

// Server exposes the hub's health, metrics, and recent-run-report
// endpoints over HTTP.
type Server struct {
	opts   Options
	logger log.Logger
	router *mux.Router
	http   *http.Server

	startedAt      time.Time
	reportsLimiter *rateLimiter
}

// NewServer builds a Server with its routes registered but not yet
// listening.
func NewServer(logger log.Logger, opts Options) *Server {
	opts = opts.withDefaults()
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	router := mux.NewRouter()

	s := &Server{
		opts:           opts,
		logger:         logger,
		router:         router,
		startedAt:      time.Now(),
		reportsLimiter: newRateLimiter(30, time.Minute),
	}

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/reports", s.rateLimit(s.handleReports)).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Run listens until ctx is canceled or a SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.opts.Addr).Info("starting http server")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		s.logger.WithField("signal", sig.String()).Info("received signal")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer shutdownCancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shut down http server")
	}
	return <-serveErr
}

// Metrics returns the registry backing this server's /metrics endpoint.
func (s *Server) Metrics() *metrics.Registry {
	return s.opts.Metrics
}

type healthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok", Uptime: time.Since(s.startedAt).String()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", err)
	}
}

// handleReports returns every run report in the JSON-lines report file
// (spec.md §7) as one JSON array, newest last, matching the file's own order.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.opts.ReportsPath)
	if err != nil {
		if os.IsNotExist(err) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, "[]")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	runs, err := report.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.logger.Error("encode reports response", err)
	}
}
