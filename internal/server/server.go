package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/n0madic/go-devcodec/internal/config"
	"github.com/n0madic/go-devcodec/internal/pipeline"
	"github.com/n0madic/go-devcodec/internal/tools"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Server exposes the conversion tools over HTTP.
type Server struct {
	Config     *config.Config
	Registry   *tools.Registry
	Pool       *pipeline.Pool
	httpServer *http.Server
	handler    http.Handler
}

// New creates a new server with all routes registered.
func New(cfg *config.Config, reg *tools.Registry) *Server {
	if reg == nil {
		reg = tools.NewDefaultRegistry(cfg.MaxInflateBytes)
	}
	s := &Server{
		Config:   cfg,
		Registry: reg,
		Pool:     pipeline.NewPool(cfg.Workers),
	}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Tools
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/detect", s.handleDetect)
	mux.HandleFunc("POST /v1/convert", s.handleConvert)

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	s.handler = corsMiddleware(authMiddleware(cfg, verboseMiddleware(cfg, mux)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
