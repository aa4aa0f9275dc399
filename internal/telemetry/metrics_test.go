package metrics

import (
	"context"
	"net/http/httptest"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.blobOperationsTotal == nil {
		t.Error("blobOperationsTotal is nil")
	}
	if m.encryptionOperations == nil {
		t.Error("encryptionOperations is nil")
	}
	if m.searchOperationsTotal == nil {
		t.Error("searchOperationsTotal is nil")
	}
}

func TestMetrics_RecordBlobOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	m.RecordBlobOperation(context.Background(), "put", "file-1", 50*time.Millisecond)
}

func TestMetrics_RecordBlobError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	m.RecordBlobError(context.Background(), "get", "file-1", "not_found")
}

func TestMetrics_RecordEncryptionOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	m.RecordEncryptionOperation(context.Background(), "encrypt", 10*time.Millisecond, 1024)
}

func TestMetrics_RecordSearch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	m.RecordSearch("ok", "high", time.Millisecond, 2, 30)
	m.RecordRateLimitRejection()
	m.RecordTrapdoorTransition("replaced")
	m.RecordKeyRotation("rotated")
	m.RecordIndexOperation("index", time.Millisecond)
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordEncryptionOperation(context.Background(), "encrypt", 10*time.Millisecond, 1024)
	m.RecordBlobOperation(context.Background(), "put", "file-1", 5*time.Millisecond)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	body := w.Body.String()
	expected := []string{"zkim_encryption_operations_total", "zkim_blobstore_operations_total"}
	for _, metric := range expected {
		if !contains(body, metric) {
			t.Errorf("expected metrics output to contain %q", metric)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || findSubstring(s, substr))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
