// Package metrics aggregates in-memory counters for the storefront API and
// renders them in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters for HTTP requests, auth
// outcomes, cart mutations, catalog changes, catalog cache effectiveness, and
// image uploads. It coordinates concurrent writers via a RWMutex.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	authEvents      map[string]uint64
	cartEvents      map[string]uint64
	catalogEvents   map[string]uint64
	cacheEvents     map[string]uint64
	imageEvents     map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		authEvents:      make(map[string]uint64),
		cartEvents:      make(map[string]uint64),
		catalogEvents:   make(map[string]uint64),
		cacheEvents:     make(map[string]uint64),
		imageEvents:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
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

// ObserveAuthEvent records a token lifecycle outcome ("issued", "rejected",
// "verified").
func (r *Recorder) ObserveAuthEvent(event string) {
	r.increment(r.authEvents, event)
}

// ObserveCartEvent records a cart mutation ("add", "remove").
func (r *Recorder) ObserveCartEvent(event string) {
	r.increment(r.cartEvents, event)
}

// ObserveCatalogEvent records a catalog change ("product_add", "product_remove").
func (r *Recorder) ObserveCatalogEvent(event string) {
	r.increment(r.catalogEvents, event)
}

// ObserveCacheEvent records catalog cache effectiveness ("hit", "miss",
// "invalidate").
func (r *Recorder) ObserveCacheEvent(event string) {
	r.increment(r.cacheEvents, event)
}

// ObserveImageEvent records an upload directory change ("upload", "delete").
func (r *Recorder) ObserveImageEvent(event string) {
	r.increment(r.imageEvents, event)
}

func (r *Recorder) increment(counters map[string]uint64, event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	counters[normalized]++
	r.mu.Unlock()
}

// CartEventCounts returns a copy of the cart mutation counters for tests and
// reporting.
func (r *Recorder) CartEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.cartEvents))
	for k, v := range r.cartEvents {
		out[k] = v
	}
	return out
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.authEvents = make(map[string]uint64)
	r.cartEvents = make(map[string]uint64)
	r.catalogEvents = make(map[string]uint64)
	r.cacheEvents = make(map[string]uint64)
	r.imageEvents = make(map[string]uint64)
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

	fmt.Fprintln(w, "# HELP merchanza_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE merchanza_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "merchanza_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP merchanza_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE merchanza_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "merchanza_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP merchanza_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE merchanza_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "merchanza_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	writeEventCounter(w, "merchanza_auth_events_total", "Session token lifecycle outcomes by type", r.authEvents)
	writeEventCounter(w, "merchanza_cart_events_total", "Cart mutations by type", r.cartEvents)
	writeEventCounter(w, "merchanza_catalog_events_total", "Catalog changes by type", r.catalogEvents)
	writeEventCounter(w, "merchanza_catalog_cache_events_total", "Catalog cache lookups by outcome", r.cacheEvents)
	writeEventCounter(w, "merchanza_image_events_total", "Upload directory changes by type", r.imageEvents)
}

func writeEventCounter(w io.Writer, name, help string, counters map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	events := make([]string, 0, len(counters))
	for event := range counters {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", name, event, counters[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

// normalizePath collapses the only parameterized route, the static image
// files, so metric cardinality stays bounded.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if strings.HasPrefix(path, "/images/") {
		return "/images/:file"
	}
	if strings.HasSuffix(path, "/") && len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
