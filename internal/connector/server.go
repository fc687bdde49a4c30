// Package connector implements the localhost HTTP server (C5): the origin
// gate, CORS headers, request logging, and the /health, /proxy,
// /upload-acap, /upload-license, /scan, /scan/ws and /scan/cancel
// endpoints.
package connector

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/anava/connector/internal/camclient"
	"github.com/anava/connector/internal/certstore"
	"github.com/anava/connector/internal/classifier"
	"github.com/anava/connector/internal/scanner"
	"github.com/anava/connector/internal/upload"
	"github.com/anava/connector/internal/wsrelay"
)

// Server is the connector's localhost HTTP API.
type Server struct {
	listenAddr     string
	allowedOrigins map[string]bool

	standardClient *camclient.Client
	uploadClient   *camclient.Client
	certs          *certstore.Store
	classifier     *classifier.Classifier
	log            *zap.Logger

	mu       sync.Mutex
	sessions map[string]*scanSession

	httpServer *http.Server
}

type scanSession struct {
	session *scanner.Session
	hub     *wsrelay.Hub
	cancel  context.CancelFunc
}

// Config configures a new Server.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	Certs          *certstore.Store
	Classifier     *classifier.Classifier
	Log            *zap.Logger
}

// New builds a Server with its two long-lived camera HTTP clients wired to
// the certificate store's TOFU verifier.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}

	return &Server{
		listenAddr:     cfg.ListenAddr,
		allowedOrigins: origins,
		standardClient: camclient.New(camclient.StandardTimeout, cfg.Certs.VerifyConnection),
		uploadClient:   camclient.New(camclient.UploadTimeout, cfg.Certs.VerifyConnection),
		certs:          cfg.Certs,
		classifier:     cfg.Classifier,
		log:            log,
		sessions:       make(map[string]*scanSession),
	}
}

// Router builds the gorilla/mux router with the logging middleware applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/proxy", s.handleProxy).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/upload-acap", s.handleUploadACAP).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/upload-license", s.handleUploadLicense).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/scan", s.handleScanStart).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/scan/ws", s.handleScanWS).Methods(http.MethodGet)
	r.HandleFunc("/scan/cancel", s.handleScanCancel).Methods(http.MethodPost, http.MethodOptions)
	return s.loggingMiddleware(r)
}

// Run starts listening and blocks until ctx is cancelled, then performs a
// graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.listenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("connector listening", zap.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("connector shutdown failed", zap.Error(err))
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// statusResponseWriter records the status code for the logging middleware,
// mirroring fishymetrics/cmd/fishymetrics/main.go's statusResponseWriter.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	w.ResponseWriter.WriteHeader(status)
	w.status = status
}

func (s *Server) loggingMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()
		ctx := context.WithValue(r.Context(), traceIDKey{}, traceID)
		r = r.WithContext(ctx)

		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(srw, r)

		s.log.Info("handled request",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", srw.status),
			zap.Float64("elapsed_ms", float64(time.Since(start).Microseconds())/1000),
		)
	})
}

type traceIDKey struct{}

// isOriginAllowed implements SPEC_FULL.md's origin gate: an absent Origin
// header is allowed only from loopback requests; a present Origin must
// match the configured allowlist exactly.
func (s *Server) isOriginAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return isLoopback(r.RemoteAddr)
	}
	return s.allowedOrigins[origin]
}

// setCORSHeaders applies the gate and, on success, the CORS response
// headers. It returns false (and has already written a 403) when the
// origin is rejected.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) bool {
	if !s.isOriginAllowed(r) {
		s.log.Warn("blocked request from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
		http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
		return false
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	return true
}
