package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAggregatesByNormalizedPath(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodGet, "/api/jobs/abc-123", http.StatusOK, 10*time.Millisecond)
	recorder.ObserveRequest(http.MethodGet, "/api/jobs/def-456", http.StatusOK, 20*time.Millisecond)

	w := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	if !strings.Contains(body, `hlscast_http_requests_total{method="GET",path="/api/jobs/:id",status="200"} 2`) {
		t.Fatalf("expected aggregated counter, got:\n%s", body)
	}
}

func TestConversionEventsAndGauge(t *testing.T) {
	recorder := New()
	recorder.ConversionStarted()
	if recorder.ActiveConversions() != 1 {
		t.Fatalf("expected gauge 1, got %d", recorder.ActiveConversions())
	}
	recorder.ConversionCompleted()
	if recorder.ActiveConversions() != 0 {
		t.Fatalf("expected gauge 0, got %d", recorder.ActiveConversions())
	}

	recorder.ConversionStarted()
	recorder.ConversionFailed()
	recorder.ConversionRejected()

	counts := recorder.ConversionCounts()
	if counts["start"] != 2 || counts["complete"] != 1 || counts["fail"] != 1 || counts["rejected"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	// The gauge never goes negative even on unbalanced failure calls.
	recorder.ConversionFailed()
	if recorder.ActiveConversions() != 0 {
		t.Fatalf("expected gauge to stay at 0, got %d", recorder.ActiveConversions())
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "/api/jobs/abc-123", want: "/api/jobs/:id"},
		{input: "/api/jobs", want: "/api/jobs"},
		{input: "/uploads/v/abc/index.m3u8", want: "/uploads/v/:id"},
		{input: "/uploads/file-abc.mp4", want: "/uploads/:file"},
		{input: "/static/app.js", want: "/static"},
		{input: "/healthz", want: "/healthz"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.input); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	recorder.ConversionStarted()
	recorder.Reset()

	if recorder.ActiveConversions() != 0 {
		t.Fatal("expected gauge reset")
	}
	if len(recorder.ConversionCounts()) != 0 {
		t.Fatal("expected conversion counts reset")
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", w.Code)
	}

	mw := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(mw.Body.String(), `status="418"`) {
		t.Fatal("expected recorded 418 status")
	}
}
