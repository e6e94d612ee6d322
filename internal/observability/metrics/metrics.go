// Package metrics aggregates in-memory counters for HTTP traffic and
// conversion jobs and renders them as Prometheus text exposition data.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder tracks HTTP request counts and durations alongside conversion job
// outcomes. It coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for conversions currently holding an ffmpeg subprocess.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	conversionEvents  map[string]uint64
	activeConversions atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		conversionEvents: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not wire
// a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ConversionStarted records the start of a conversion job and increments the
// active conversion gauge.
func (r *Recorder) ConversionStarted() {
	r.recordConversionEvent("start")
	r.activeConversions.Add(1)
}

// ConversionCompleted records a successful conversion and decrements the
// active conversion gauge.
func (r *Recorder) ConversionCompleted() {
	r.recordConversionEvent("complete")
	r.decrementGauge(&r.activeConversions)
}

// ConversionFailed records a failed conversion and decrements the active
// conversion gauge, guarding against negative counts when a job never
// started.
func (r *Recorder) ConversionFailed() {
	r.recordConversionEvent("fail")
	r.decrementGauge(&r.activeConversions)
}

// ConversionRejected records a conversion that was refused admission before
// any subprocess launched. The gauge is untouched.
func (r *Recorder) ConversionRejected() {
	r.recordConversionEvent("rejected")
}

func (r *Recorder) recordConversionEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.conversionEvents[normalized]++
	r.mu.Unlock()
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveConversions exposes the current gauge of conversions holding an
// ffmpeg subprocess.
func (r *Recorder) ActiveConversions() int64 {
	return r.activeConversions.Load()
}

// ConversionCounts returns a copy of the conversion event counters for tests
// and reporting.
func (r *Recorder) ConversionCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.conversionEvents))
	for k, v := range r.conversionEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.conversionEvents = make(map[string]uint64)
	r.activeConversions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	conversionEvents := r.sortedConversionEvents()

	fmt.Fprintln(w, "# HELP hlscast_http_requests_total Total number of HTTP requests processed by the server")
	fmt.Fprintln(w, "# TYPE hlscast_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "hlscast_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP hlscast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE hlscast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "hlscast_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP hlscast_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE hlscast_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "hlscast_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP hlscast_conversion_jobs_total Conversion job events by type")
	fmt.Fprintln(w, "# TYPE hlscast_conversion_jobs_total counter")
	for _, event := range conversionEvents {
		count := r.conversionEvents[event]
		fmt.Fprintf(w, "hlscast_conversion_jobs_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP hlscast_active_conversions Current number of running conversion jobs")
	fmt.Fprintln(w, "# TYPE hlscast_active_conversions gauge")
	fmt.Fprintf(w, "hlscast_active_conversions %d\n", r.activeConversions.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedConversionEvents() []string {
	events := make([]string, 0, len(r.conversionEvents))
	for event := range r.conversionEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// normalizePath collapses per-job path segments so metric cardinality stays
// bounded no matter how many jobs the server has seen.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "/" {
		return "/"
	}
	if strings.HasPrefix(trimmed, "/api/jobs/") {
		return "/api/jobs/:id"
	}
	if strings.HasPrefix(trimmed, "/uploads/v/") {
		return "/uploads/v/:id"
	}
	if strings.HasPrefix(trimmed, "/uploads/") {
		return "/uploads/:file"
	}
	if strings.HasPrefix(trimmed, "/static/") {
		return "/static"
	}
	return trimmed
}
