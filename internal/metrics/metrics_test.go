package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRPC("/svc/Issue", "OK", 10*time.Millisecond)
	m.ObserveRPC("/svc/Issue", "OK", 20*time.Millisecond)
	m.ObserveRPC("/svc/Issue", "Unauthenticated", time.Millisecond)
	m.Issued("phone")
	m.Refreshed(true)
	m.Refreshed(false)
	m.Refreshed(false)
	m.Revoked(3)
	m.Revoked(0)
	m.RateLimited()

	require.Equal(t, 2.0, testutil.ToFloat64(m.rpcs.WithLabelValues("/svc/Issue", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rpcs.WithLabelValues("/svc/Issue", "Unauthenticated")))
	require.Equal(t, 1, testutil.CollectAndCount(m.rpcDuration))
	require.Equal(t, 1.0, testutil.ToFloat64(m.issued.WithLabelValues("phone")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("rotated")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("rejected")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.revoked))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveRPC("x", "OK", time.Second)
	m.Issued("google")
	m.Refreshed(true)
	m.Revoked(1)
	m.RateLimited()
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Issued("apple")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.True(t, strings.Contains(string(body), `sessionkeeper_sessions_issued_total{auth_method="apple"} 1`))
	require.True(t, strings.Contains(string(body), "go_goroutines"))
}
