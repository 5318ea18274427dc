package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderWritesRequestCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/allproducts", 200, 150*time.Millisecond)
	recorder.ObserveRequest("GET", "/allproducts", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/addtocart", 401, 5*time.Millisecond)

	var sb strings.Builder
	recorder.Write(&sb)
	output := sb.String()

	if !strings.Contains(output, `merchanza_http_requests_total{method="GET",path="/allproducts",status="200"} 2`) {
		t.Fatalf("expected aggregated GET counter, got:\n%s", output)
	}
	if !strings.Contains(output, `merchanza_http_requests_total{method="POST",path="/addtocart",status="401"} 1`) {
		t.Fatalf("expected POST counter, got:\n%s", output)
	}
	if !strings.Contains(output, `merchanza_http_request_duration_seconds_count{method="GET",path="/allproducts",status="200"} 2`) {
		t.Fatalf("expected duration count, got:\n%s", output)
	}
}

func TestRecorderEventCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveCartEvent("add")
	recorder.ObserveCartEvent("add")
	recorder.ObserveCartEvent("remove")
	recorder.ObserveAuthEvent("Rejected")
	recorder.ObserveCacheEvent("hit")
	recorder.ObserveImageEvent("upload")
	recorder.ObserveCatalogEvent("product_add")

	var sb strings.Builder
	recorder.Write(&sb)
	output := sb.String()

	if !strings.Contains(output, `merchanza_cart_events_total{event="add"} 2`) {
		t.Fatalf("expected cart add counter, got:\n%s", output)
	}
	if !strings.Contains(output, `merchanza_auth_events_total{event="rejected"} 1`) {
		t.Fatalf("expected normalized auth counter, got:\n%s", output)
	}
	if !strings.Contains(output, `merchanza_catalog_cache_events_total{event="hit"} 1`) {
		t.Fatalf("expected cache counter, got:\n%s", output)
	}

	counts := recorder.CartEventCounts()
	if counts["add"] != 2 || counts["remove"] != 1 {
		t.Fatalf("unexpected cart counts: %+v", counts)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "", want: "/"},
		{input: "/", want: "/"},
		{input: "/allproducts", want: "/allproducts"},
		{input: "/allproducts/", want: "/allproducts"},
		{input: "/images/image_1724.png", want: "/images/:file"},
		{input: "/images/a/b", want: "/images/:file"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.input); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestHandlerContentType(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/", 200, time.Millisecond)

	rr := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Body.String(), "merchanza_http_requests_total") {
		t.Fatalf("expected request counter in output, got:\n%s", rr.Body.String())
	}
}

func TestReset(t *testing.T) {
	recorder := New()
	recorder.ObserveCartEvent("add")
	recorder.Reset()
	if counts := recorder.CartEventCounts(); len(counts) != 0 {
		t.Fatalf("expected empty counters after reset, got %+v", counts)
	}
}
