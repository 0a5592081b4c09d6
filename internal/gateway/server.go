// Package gateway serves the relay's operational HTTP endpoints and,
// optionally, the downloaded media tree.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/tgrelay/internal/config"
	"github.com/nextlevelbuilder/tgrelay/internal/stats"
)

// Server is the ops HTTP listener.
type Server struct {
	cfg        config.ServerConfig
	mediaDir   string
	stats      *stats.Reporter
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the server. gatherer may be nil to disable /metrics.
func NewServer(cfg config.ServerConfig, mediaDir string, reporter *stats.Reporter, gatherer prometheus.Gatherer) *Server {
	return &Server{cfg: cfg, mediaDir: mediaDir, stats: reporter, gatherer: gatherer}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.stats != nil {
		mux.HandleFunc("/stats", s.handleStats)
	}
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.cfg.ServeMedia && s.mediaDir != "" {
		for _, sub := range []string{"ava", "media"} {
			prefix := "/" + sub + "/"
			mux.Handle(prefix, http.StripPrefix(prefix, noListing(http.FileServer(http.Dir(filepath.Join(s.mediaDir, sub))))))
		}
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("ops server starting", "addr", s.cfg.Listen, "serve_media", s.cfg.ServeMedia)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.Snapshot())
}

// noListing hides directory indexes.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
