// Package httpapi serves the JSON-RPC endpoint and its companion routes over
// HTTP. Each POST carries exactly one message; connections are served
// concurrently.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mwiater/mcpdispatch/internal/rpc"
	"github.com/mwiater/mcpdispatch/internal/server"
	"github.com/mwiater/mcpdispatch/internal/tools"
)

// DefaultMaxBodyBytes caps a request body.
const DefaultMaxBodyBytes = 1 << 20

// Backend is what the HTTP layer needs from the protocol server.
type Backend interface {
	HandleMessage(ctx context.Context, sess *server.Session, raw []byte) *rpc.Response
	Tools() []tools.Descriptor
}

// Config controls the listener and request policy.
type Config struct {
	Host            string
	Port            int
	MaxBodyBytes    int64
	AllowedOrigins  []string
	AuthToken       string
	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Transport owns the router and the http.Server built around it.
type Transport struct {
	cfg     Config
	backend Backend
	gather  prometheus.Gatherer
	logger  *zap.Logger
	router  *chi.Mux
}

// New builds the router. gather may be nil, in which case /metrics is not mounted.
func New(cfg Config, backend Backend, gather prometheus.Gatherer, logger *zap.Logger) *Transport {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{cfg: cfg, backend: backend, gather: gather, logger: logger}
	t.setupRouter()
	return t
}

// Handler exposes the root handler, mainly for tests.
func (t *Transport) Handler() http.Handler { return t.router }

func (t *Transport) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(t.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(t.corsHandler())

	r.Get("/health", t.handleHealth)
	if t.gather != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(t.gather, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(t.auth)
		r.Post("/jsonrpc", t.handleRPC)
		r.Post("/mcp", t.handleRPC)
		r.Get("/tools", t.handleListTools)
	})
	t.router = r
}

func (t *Transport) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: t.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		MaxAge:         300,
	}
	return cors.New(opts).Handler
}

func (t *Transport) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+t.cfg.AuthToken {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcpdispatch"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Transport) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		t.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("remote", r.RemoteAddr),
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "transport": "http"})
}

func (t *Transport) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": t.backend.Tools()})
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			t.writeRPC(w, http.StatusRequestEntityTooLarge, server.Malformed(&rpc.DecodeError{
				Code:    rpc.CodeInvalidRequest,
				Message: fmt.Sprintf("invalid request: body exceeds %d bytes", t.cfg.MaxBodyBytes),
			}))
			return
		}
		t.writeRPC(w, http.StatusBadRequest, server.Malformed(&rpc.DecodeError{
			Code:    rpc.CodeParseError,
			Message: fmt.Sprintf("parse error: read body: %v", err),
		}))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		t.writeRPC(w, http.StatusBadRequest, server.Malformed(&rpc.DecodeError{
			Code:    rpc.CodeParseError,
			Message: "parse error: " + rpc.ErrEmptyMessage.Error(),
		}))
		return
	}

	sess := server.NewSession("http")
	w.Header().Set("Mcp-Session-Id", sess.ID)
	resp := t.backend.HandleMessage(r.Context(), sess, body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	t.writeRPC(w, http.StatusOK, resp)
}

func (t *Transport) writeRPC(w http.ResponseWriter, status int, resp *rpc.Response) {
	data, err := rpc.EncodeResponse(resp)
	if err != nil {
		t.logger.Error("encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe binds the listener first so address errors surface before
// anything is served, then serves until ctx is cancelled and shuts down
// gracefully. A clean shutdown returns nil.
func (t *Transport) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.Addr(), err)
	}
	return t.Serve(ctx, ln)
}

// Serve serves on an already bound listener.
func (t *Transport) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           t.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.logger.Info("http transport listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
		defer cancel()
		t.logger.Info("http transport shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
