package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hlscast/internal/api"
	"hlscast/internal/observability/metrics"
	"hlscast/internal/storage"
)

type noopConverter struct{}

func (noopConverter) Convert(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644)
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	layout, err := storage.NewLayout(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	conversions := api.NewConversionService(api.ConversionConfig{
		Store:     store,
		Layout:    layout,
		Converter: noopConverter{},
		Metrics:   metrics.New(),
	})
	handler := api.NewHandler(store, layout, conversions)
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0"})

	cases := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "root banner", method: http.MethodGet, path: "/", wantStatus: http.StatusOK},
		{name: "health", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "jobs list", method: http.MethodGet, path: "/api/jobs", wantStatus: http.StatusOK},
		{name: "missing job", method: http.MethodGet, path: "/api/jobs/missing", wantStatus: http.StatusNotFound},
		{name: "upload wrong method", method: http.MethodGet, path: "/upload", wantStatus: http.StatusMethodNotAllowed},
		{name: "missing media", method: http.MethodGet, path: "/uploads/missing.mp4", wantStatus: http.StatusNotFound},
		{name: "static client", method: http.MethodGet, path: "/static/index.html", wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(w, r)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestServerRootBannerBody(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, r)
	if !strings.Contains(w.Body.String(), "Server is running...") {
		t.Fatalf("unexpected banner body %q", w.Body.String())
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1}})

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestServerUploadRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", RateLimit: RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute}})

	r := httptest.NewRequest(http.MethodPost, "/upload", nil)
	r.RemoteAddr = "10.0.0.1:4444"
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, r)
	// The first request reaches the handler and fails on the empty body.
	if w.Code == http.StatusTooManyRequests {
		t.Fatalf("expected first upload to reach the handler, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestServerRejectsMismatchedTLSConfig(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	layout, err := storage.NewLayout(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	conversions := api.NewConversionService(api.ConversionConfig{
		Store:     store,
		Layout:    layout,
		Converter: noopConverter{},
		Metrics:   metrics.New(),
	})
	handler := api.NewHandler(store, layout, conversions)
	if _, err := New(handler, Config{Addr: ":0", TLS: TLSConfig{CertFile: "cert.pem"}}); err == nil {
		t.Fatal("expected error for cert without key")
	}
}
