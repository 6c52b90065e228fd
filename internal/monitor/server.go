// Package monitor serves live decode statistics as a JSON REST API over
// HTTPS and HTTP/3, for run-monitoring dashboards watching a detector
// acquisition.
package monitor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/tpx3d/internal/certs"
	"github.com/zsiec/tpx3d/internal/ingest"
	"github.com/zsiec/tpx3d/internal/stats"
)

// ConnStatsFunc returns the current ingest connection counters. The
// function itself is nil when there is no network source.
type ConnStatsFunc func() ingest.ClientStats

// Server exposes the aggregator's statistics over HTTPS and HTTP/3 on
// the same address (TCP and UDP respectively).
type Server struct {
	log       *slog.Logger
	addr      string
	cert      *certs.Cert
	agg       *stats.Aggregator
	connStats ConnStatsFunc
}

// NewServer creates a monitor Server for agg on addr. connStats may be
// nil. If log is nil, slog.Default() is used.
func NewServer(addr string, agg *stats.Aggregator, connStats ConnStatsFunc, cert *certs.Cert, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:       log.With("component", "monitor"),
		addr:      addr,
		cert:      cert,
		agg:       agg,
		connStats: connStats,
	}
}

// Handler returns the REST API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/hits", s.handleHits)
	mux.HandleFunc("GET /api/conn", s.handleConn)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	return corsMiddleware(mux)
}

// Start serves until the context is cancelled. It listens on TCP for
// HTTPS and on UDP for HTTP/3 with the same certificate.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{s.cert.TLSCert},
	}

	httpSrv := &http.Server{
		Addr:      s.addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}
	h3Srv := &http3.Server{
		Addr:      s.addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = h3Srv.Close()
	})
	defer stop()

	s.log.Info("monitor API listening", "addr", s.addr,
		"cert_hash", s.cert.FingerprintBase64())

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	go func() {
		if err := h3Srv.ListenAndServe(); err != nil && ctx.Err() == nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.agg.Snapshot())
}

func (s *Server) handleHits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.agg.RecentHits())
}

func (s *Server) handleConn(w http.ResponseWriter, _ *http.Request) {
	if s.connStats == nil {
		http.Error(w, "no network source", http.StatusNotFound)
		return
	}
	writeJSON(w, s.connStats())
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"certHash": s.cert.FingerprintBase64()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
