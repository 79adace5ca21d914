// Package metrics exposes the engine's Prometheus counters/gauges over an
// optional chi-routed HTTP server (spec §5.11), grounded in foxzi-sendry's
// use of client_golang + chi for its admin surface; disabled by default,
// matching the teacher's WebServerEnable pattern.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lbj9527/tgrelay/internal/obs/logger"
)

var (
	Admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgrelay_admissions_total",
		Help: "Rate-limit admissions granted, by operation class.",
	}, []string{"class"})

	FloodWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgrelay_flood_waits_total",
		Help: "Flood-wait responses observed, by operation class.",
	}, []string{"class"})

	ScratchOutstanding = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tgrelay_scratch_outstanding",
		Help: "ScratchHandles currently recorded in a session's ledger.",
	}, []string{"session"})

	BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgrelay_bytes_transferred_total",
		Help: "Bytes moved, by direction (download|upload).",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(Admissions, FloodWaits, ScratchOutstanding, BytesTransferred)
}

// Server serves /metrics and /healthz on addr until ctx is cancelled.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: r}}
}

// Run blocks serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("metrics: shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
