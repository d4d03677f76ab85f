// Package telemetry queries live cluster state (metrics, alerts, logs) for
// the retrieval tools. Responses are cached briefly so a chat session
// poking at the same alert doesn't hammer the monitoring stack.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxResponseBytes = 1 << 20

// Config holds the telemetry endpoints. Empty URLs disable their client.
type Config struct {
	PrometheusURL   string
	AlertmanagerURL string
	LokiURL         string
	CacheTTL        time.Duration
}

// Client queries Prometheus, Alertmanager, and Loki over their HTTP APIs.
type Client struct {
	cfg   Config
	http  *http.Client
	cache *expirable.LRU[string, string]
}

// New creates a telemetry client.
func New(cfg Config) *Client {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		cache: expirable.NewLRU[string, string](128, nil, ttl),
	}
}

// QueryMetrics runs an instant PromQL query and returns a flat listing of
// the result vector.
func (c *Client) QueryMetrics(ctx context.Context, promql string) (string, error) {
	if c.cfg.PrometheusURL == "" {
		return "", fmt.Errorf("prometheus is not configured")
	}
	u := c.cfg.PrometheusURL + "/api/v1/query?query=" + url.QueryEscape(promql)

	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string `json:"resultType"`
			Result     []struct {
				Metric map[string]string `json:"metric"`
				Value  []any             `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := decodeJSON(body, &resp); err != nil {
		return "", fmt.Errorf("decode prometheus response: %w", err)
	}
	if resp.Status != "success" {
		return "", fmt.Errorf("prometheus query failed: status %s", resp.Status)
	}
	if len(resp.Data.Result) == 0 {
		return "No samples returned.", nil
	}

	var b strings.Builder
	for _, r := range resp.Data.Result {
		val := ""
		if len(r.Value) == 2 {
			val, _ = r.Value[1].(string)
		}
		fmt.Fprintf(&b, "%s => %s\n", formatLabels(r.Metric), val)
	}
	return b.String(), nil
}

// ActiveAlerts returns the currently firing alerts, one per line.
func (c *Client) ActiveAlerts(ctx context.Context) (string, error) {
	if c.cfg.AlertmanagerURL == "" {
		return "", fmt.Errorf("alertmanager is not configured")
	}
	u := c.cfg.AlertmanagerURL + "/api/v2/alerts?active=true&silenced=false"

	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}

	var alerts []struct {
		Labels      map[string]string `json:"labels"`
		Annotations map[string]string `json:"annotations"`
		StartsAt    time.Time         `json:"startsAt"`
	}
	if err := decodeJSON(body, &alerts); err != nil {
		return "", fmt.Errorf("decode alertmanager response: %w", err)
	}
	if len(alerts) == 0 {
		return "No active alerts.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active alert(s):\n", len(alerts))
	for _, a := range alerts {
		name := a.Labels["alertname"]
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "- %s %s since %s", name, formatLabels(a.Labels), a.StartsAt.Format(time.RFC3339))
		if summary := a.Annotations["summary"]; summary != "" {
			fmt.Fprintf(&b, " — %s", summary)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// QueryLogs runs a LogQL range query over the trailing window and returns
// the matched log lines.
func (c *Client) QueryLogs(ctx context.Context, logql string, since time.Duration, limit int) (string, error) {
	if c.cfg.LokiURL == "" {
		return "", fmt.Errorf("loki is not configured")
	}
	if since <= 0 {
		since = time.Hour
	}
	if limit <= 0 {
		limit = 100
	}
	start := time.Now().Add(-since)

	q := url.Values{}
	q.Set("query", logql)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	u := c.cfg.LokiURL + "/loki/api/v1/query_range?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := decodeJSON(body, &resp); err != nil {
		return "", fmt.Errorf("decode loki response: %w", err)
	}
	if resp.Status != "success" {
		return "", fmt.Errorf("loki query failed: status %s", resp.Status)
	}

	var b strings.Builder
	total := 0
	for _, stream := range resp.Data.Result {
		labels := formatLabels(stream.Stream)
		for _, v := range stream.Values {
			fmt.Fprintf(&b, "%s %s\n", labels, v[1])
			total++
		}
	}
	if total == 0 {
		return "No log lines matched.", nil
	}
	return b.String(), nil
}

// get fetches a URL with the TTL cache in front.
func (c *Client) get(ctx context.Context, u string) (string, error) {
	if cached, ok := c.cache.Get(u); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("telemetry request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telemetry endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	c.cache.Add(u, string(body))
	return string(body), nil
}

func decodeJSON(body string, v any) error {
	return json.Unmarshal([]byte(body), v)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+`="`+labels[k]+`"`)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
