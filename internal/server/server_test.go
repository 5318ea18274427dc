package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"merchanza/internal/api"
	"merchanza/internal/auth"
	"merchanza/internal/observability/logging"
	"merchanza/internal/observability/metrics"
	"merchanza/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	handler := api.NewHandler(repo, issuer)
	handler.UploadDir = filepath.Join(t.TempDir(), "images")
	handler.Metrics = metrics.New()

	srv, err := New(handler, Config{Addr: "127.0.0.1:0", Metrics: handler.Metrics})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRootBanner(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("root returned %d", rr.Code)
	}
	if rr.Body.String() != "Merchanza API is running" {
		t.Fatalf("unexpected banner %q", rr.Body.String())
	}
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodOptions, "/addtocart", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "auth-token") {
		t.Fatalf("auth-token not allowed: %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}

	rr = doJSON(t, srv, http.MethodGet, "/allproducts", nil, nil)
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("allow-origin missing on plain request")
	}
}

func TestCORSAllowlist(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://shop.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy returned error: %v", err)
	}

	handler := corsMiddleware(policy, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/allproducts", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("allowed origin returned %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("expected origin echoed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/allproducts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("blocked origin returned %d", rr.Code)
	}

	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"not a url"}}); err == nil {
		t.Fatal("expected error for malformed origin")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/addtocart", "/removefromcart", "/getcart"} {
		rr := doJSON(t, srv, http.MethodPost, path, map[string]int{"itemId": 1}, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s returned %d without token", path, rr.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
		if payload["errors"] != "Please authenticate using valid login" {
			t.Fatalf("%s unexpected message %q", path, payload["errors"])
		}
	}
}

func TestSignupThenCartRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/signup", map[string]string{
		"name":     "shopper",
		"email":    "shopper@example.com",
		"password": "hunter2",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("signup returned %d: %s", rr.Code, rr.Body.String())
	}
	var signup struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &signup); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	if !signup.Success || signup.Token == "" {
		t.Fatalf("unexpected signup payload: %+v", signup)
	}

	headers := map[string]string{"auth-token": signup.Token}
	rr = doJSON(t, srv, http.MethodPost, "/addtocart", map[string]int{"itemId": 42}, headers)
	if rr.Code != http.StatusOK || rr.Body.String() != "Added" {
		t.Fatalf("addtocart returned %d %q", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodPost, "/getcart", nil, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("getcart returned %d", rr.Code)
	}
	var cart []int
	if err := json.Unmarshal(rr.Body.Bytes(), &cart); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if cart[42] != 1 {
		t.Fatalf("slot 42 = %d, want 1", cart[42])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodGet, "/allproducts", nil, nil)

	rr := doJSON(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Body.String(), "merchanza_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestRequestLoggingCarriesRequestID(t *testing.T) {
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	handler := api.NewHandler(repo, issuer)
	handler.Metrics = metrics.New()

	var buf bytes.Buffer
	logger := logging.New(logging.Config{Writer: &buf, Format: "json"})
	srv, err := New(handler, Config{Addr: "127.0.0.1:0", Metrics: handler.Metrics, Logger: logger})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	rr := doJSON(t, srv, http.MethodGet, "/healthz", nil, nil)
	requestID := rr.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("expected request id header")
	}

	var entry map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var candidate map[string]interface{}
		if err := json.Unmarshal([]byte(line), &candidate); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if candidate["msg"] == "request completed" {
			entry = candidate
			break
		}
	}
	if entry == nil {
		t.Fatalf("no request log entry found:\n%s", buf.String())
	}
	if entry["request_id"] != requestID {
		t.Fatalf("log request_id = %v, want %q", entry["request_id"], requestID)
	}
	if entry["path"] != "/healthz" {
		t.Fatalf("log path = %v, want /healthz", entry["path"])
	}
	if _, ok := entry["remote_ip"]; !ok {
		t.Fatalf("log entry missing remote_ip: %v", entry)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/healthz", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
