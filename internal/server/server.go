// Package server assembles the HTTP listener: routing, CORS, rate limiting,
// observability middleware, and graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"hlscast/internal/api"
	"hlscast/internal/observability/logging"
	"hlscast/internal/observability/metrics"
	"hlscast/web"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	// ShutdownTimeout bounds graceful shutdown once the run context is
	// cancelled.
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	metrics         *metrics.Recorder
	rateLimiter     *rateLimiter
	tlsCertFile     string
	tlsKeyFile      string
	shutdownTimeout time.Duration
}

const defaultShutdownTimeout = 10 * time.Second

func New(handler *api.Handler, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/upload", handler.Upload)
	mux.HandleFunc("/api/jobs", handler.Jobs)
	mux.HandleFunc("/api/jobs/", handler.JobByID)
	mux.Handle("/uploads/", handler.Media())

	staticFS, err := web.Static()
	if err != nil {
		return nil, fmt.Errorf("load web assets: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))

	mux.HandleFunc("/", handler.Root)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = corsMiddleware(policy, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:      httpServer,
		logger:          cfg.Logger,
		metrics:         recorder,
		rateLimiter:     rl,
		tlsCertFile:     strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:      strings.TrimSpace(cfg.TLS.KeyFile),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if srv.shutdownTimeout <= 0 {
		srv.shutdownTimeout = defaultShutdownTimeout
	}

	if (srv.tlsCertFile == "") != (srv.tlsKeyFile == "") {
		return nil, fmt.Errorf("both TLS cert file and key file must be provided")
	}
	if srv.tlsCertFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Run serves until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	serveErr := make(chan error, 1)
	go func() {
		if s.tlsCertFile != "" && s.tlsKeyFile != "" {
			serveErr <- s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
			return
		}
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener directly, for callers managing their own
// lifecycle.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			api.WriteError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/upload" {
			ip := clientIPFromRequest(r)
			allowed, retryAfter, err := rl.AllowUpload(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				api.WriteError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				api.WriteError(w, http.StatusTooManyRequests, "too many uploads")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
