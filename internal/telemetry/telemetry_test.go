package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryMetrics(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/query", r.URL.Path)
		require.Equal(t, "up", r.URL.Query().Get("query"))
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"job": "node", "instance": "n1"}, "value": [1724660000, "1"]}
				]
			}
		}`))
	})

	c := New(Config{PrometheusURL: srv.URL})
	out, err := c.QueryMetrics(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, "{instance=\"n1\", job=\"node\"} => 1\n", out)
}

func TestQueryMetricsEmptyResult(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success", "data": {"resultType": "vector", "result": []}}`))
	})

	c := New(Config{PrometheusURL: srv.URL})
	out, err := c.QueryMetrics(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, "No samples returned.", out)
}

func TestQueryMetricsNotConfigured(t *testing.T) {
	c := New(Config{})
	_, err := c.QueryMetrics(context.Background(), "up")
	assert.Error(t, err)
}

func TestActiveAlerts(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/alerts", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("active"))
		require.Equal(t, "false", r.URL.Query().Get("silenced"))
		w.Write([]byte(`[
			{
				"labels": {"alertname": "KubePodCrashLooping", "namespace": "media"},
				"annotations": {"summary": "Pod is crash looping."},
				"startsAt": "2026-08-26T10:00:00Z"
			}
		]`))
	})

	c := New(Config{AlertmanagerURL: srv.URL})
	out, err := c.ActiveAlerts(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "1 active alert(s):")
	assert.Contains(t, out, "KubePodCrashLooping")
	assert.Contains(t, out, `namespace="media"`)
	assert.Contains(t, out, "Pod is crash looping.")
}

func TestActiveAlertsNone(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	c := New(Config{AlertmanagerURL: srv.URL})
	out, err := c.ActiveAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No active alerts.", out)
}

func TestQueryLogs(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		require.Equal(t, `{namespace="media"}`, r.URL.Query().Get("query"))
		require.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"result": [
					{
						"stream": {"pod": "plex-0"},
						"values": [["1724660000000000000", "transcode started"]]
					}
				]
			}
		}`))
	})

	c := New(Config{LokiURL: srv.URL})
	out, err := c.QueryLogs(context.Background(), `{namespace="media"}`, time.Hour, 50)
	require.NoError(t, err)
	assert.Equal(t, "{pod=\"plex-0\"} transcode started\n", out)
}

func TestQueryLogsNoMatches(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success", "data": {"result": []}}`))
	})

	c := New(Config{LokiURL: srv.URL})
	out, err := c.QueryLogs(context.Background(), "{}", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "No log lines matched.", out)
}

func TestResponseCaching(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"status": "success", "data": {"resultType": "vector", "result": []}}`))
	})

	c := New(Config{PrometheusURL: srv.URL, CacheTTL: time.Minute})
	for i := 0; i < 3; i++ {
		_, err := c.QueryMetrics(context.Background(), "up")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPErrorSurfaces(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	})

	c := New(Config{PrometheusURL: srv.URL})
	_, err := c.QueryMetrics(context.Background(), "up{")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFormatLabelsSorted(t *testing.T) {
	got := formatLabels(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, `{a="1", b="2"}`, got)
	assert.Equal(t, "{}", formatLabels(nil))
}
