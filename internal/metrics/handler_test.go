package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestSetupMetricsRoute_ServesWorkerMetrics はワーカーが記録するBlob削除の結果が/metricsに出ることを検証する。
func TestSetupMetricsRoute_ServesWorkerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordBlobOperation(BlobDestroy, OutcomeSuccess)
	c.RecordBlobOperation(BlobDestroy, OutcomeFailure)
	c.RecordBlobOperation(BlobDestroy, OutcomeFailure)

	w := httptest.NewRecorder()
	SetupMetricsRoute(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	for _, line := range []string{
		`learnify_blob_operations_total{op="destroy",outcome="success"} 1`,
		`learnify_blob_operations_total{op="destroy",outcome="failure"} 2`,
	} {
		if !strings.Contains(string(body), line) {
			t.Errorf("response should contain %q", line)
		}
	}
}

// TestSetupMetricsRoute_OtherPathsNotFound は/metrics以外のパスが404になることを検証する。
func TestSetupMetricsRoute_OtherPathsNotFound(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	w := httptest.NewRecorder()
	SetupMetricsRoute(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
