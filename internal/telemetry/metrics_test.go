package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("Should expose recorded counters", func(t *testing.T) {
		m, err := NewMetrics(ctx, true)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Shutdown(ctx) })
		assert.True(t, m.Enabled())

		counter, err := m.Meter("blockflow.test").Int64Counter("blockflow_test_total")
		require.NoError(t, err)
		counter.Add(ctx, 3)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "blockflow_test_total")
		assert.Contains(t, string(body), " 3")
	})

	t.Run("Should hand out no-op meters when disabled", func(t *testing.T) {
		m, err := NewMetrics(ctx, false)
		require.NoError(t, err)
		assert.False(t, m.Enabled())
		assert.NoError(t, m.Shutdown(ctx))

		counter, err := m.Meter("").Int64Counter("ignored_total")
		require.NoError(t, err)
		counter.Add(ctx, 1)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
