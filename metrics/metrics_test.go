package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	a, b := New(), New()
	a.Fallbacks.WithLabelValues(FallbackTranslation).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Fallbacks.WithLabelValues(FallbackTranslation)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Fallbacks.WithLabelValues(FallbackTranslation)))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.DroppedRecords.WithLabelValues(DropPrice).Add(3)
	m.SeenItems.Set(12)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `mercari_watcher_dropped_records_total{reason="price"} 3`)
	assert.Contains(t, body, "mercari_watcher_seen_items 12")
}
