package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()
	if m.RequestsTotal == nil || m.LookupsTotal == nil || m.WatcherEvents == nil {
		t.Error("Expected all collectors initialised")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordLookup(false, "hit", 5*time.Millisecond)
	m.RecordLookup(true, "no_data", time.Millisecond)
	m.CacheHits.WithLabelValues("lookup").Inc()
	m.RecordStorageOperation("memory", "insert", time.Millisecond, nil)
	m.RecordStorageOperation("memory", "find", time.Millisecond, io.EOF)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`hiera_registry_lookups_total{merge="false",outcome="hit"} 1`,
		`hiera_registry_lookups_total{merge="true",outcome="no_data"} 1`,
		`hiera_registry_cache_hits_total{cache="lookup"} 1`,
		`hiera_registry_storage_operations_total{backend="memory",operation="insert"} 1`,
		`hiera_registry_storage_errors_total{backend="memory",operation="find"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/lookup/ntp_servers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	want := `hiera_registry_requests_total{method="GET",path="/lookup/{key}",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("Expected metrics output to contain %q", want)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/lookup/ntp_servers", "/lookup/{key}"},
		{"/keys/ntp_servers", "/keys/{key}"},
		{"/keys/ntp_servers/data", "/keys/{key}/data"},
		{"/key-models/dynamic:Port", "/key-models/{id}"},
		{"/levels/common.yaml", "/levels/{level}"},
		{"/levels/nodes/data/web01", "/levels/{level}/data/{id}"},
		{"/node-groups/webservers", "/node-groups/{id}"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
