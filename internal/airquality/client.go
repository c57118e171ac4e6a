// Package airquality fetches recent air-quality samples for a coordinate
// pair and reduces them to a one-line summary. The client never returns an
// error: every failure mode collapses into one of two sentinel strings so a
// chat turn can continue with degraded data.
package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"airbot/internal/domain"
	"airbot/internal/metrics"
)

const (
	// SummaryUnavailable is returned when the upstream answered but carried
	// no samples.
	SummaryUnavailable = "AQI data unavailable."
	// SummaryFetchFailed is returned when the upstream could not be reached
	// or its response could not be parsed.
	SummaryFetchFailed = "Could not fetch AQI data."
)

// Client is the air-quality history API client.
type Client struct {
	apiBase string
	apiKey  string
	apiHost string
	client  *http.Client
	cache   *Cache
	logger  *slog.Logger
}

type ClientConfig struct {
	APIBase string
	APIKey  string
	APIHost string
	Timeout time.Duration
	Cache   *Cache // optional
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cfg.Cache,
		logger:  cfg.Logger,
	}
}

// sample is one air-quality history entry. json.Number keeps the upstream's
// numeric representation intact in the summary.
type sample struct {
	AQI  json.Number `json:"aqi"`
	PM25 json.Number `json:"pm25"`
	PM10 json.Number `json:"pm10"`
	O3   json.Number `json:"o3"`
}

type historyResponse struct {
	Data []sample `json:"data"`
}

// Summary returns a fixed-shape one-liner for the most recent sample at the
// given coordinates, or a sentinel string. It never fails.
func (c *Client) Summary(ctx context.Context, coords domain.Coordinates) string {
	if !coords.Finite() {
		c.logger.Warn("rejecting non-finite coordinates", "lat", coords.Latitude, "lon", coords.Longitude)
		return SummaryFetchFailed
	}

	key := cacheKey(coords)
	if c.cache != nil {
		if summary, ok := c.cache.Get(ctx, key); ok {
			metrics.Collector.Inc("airbot_aqi_cache_hits_total")
			return summary
		}
	}

	summary, cacheable := c.fetch(ctx, coords)
	if cacheable && c.cache != nil {
		c.cache.Put(ctx, key, summary)
	}
	return summary
}

// fetch performs the single GET. The second return reports whether the
// result is a real upstream answer worth caching (transport failures are not).
func (c *Client) fetch(ctx context.Context, coords domain.Coordinates) (string, bool) {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	endpoint := fmt.Sprintf("%s/history/airquality?%s", c.apiBase, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Error("air quality request build failed", "err", err)
		return SummaryFetchFailed, false
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.apiHost)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("air quality fetch failed", "err", err)
		metrics.Collector.Inc("airbot_aqi_fetch_failures_total")
		return SummaryFetchFailed, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("air quality API error", "status", resp.StatusCode, "body", string(body))
		metrics.Collector.Inc("airbot_aqi_fetch_failures_total")
		return SummaryFetchFailed, false
	}

	var history historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		c.logger.Warn("air quality response parse failed", "err", err)
		metrics.Collector.Inc("airbot_aqi_fetch_failures_total")
		return SummaryFetchFailed, false
	}

	if len(history.Data) == 0 {
		return SummaryUnavailable, true
	}

	latest := history.Data[0]
	return fmt.Sprintf("AQI: %s, PM2.5: %s, PM10: %s, O₃: %s",
		numberOrZero(latest.AQI),
		numberOrZero(latest.PM25),
		numberOrZero(latest.PM10),
		numberOrZero(latest.O3),
	), true
}

func numberOrZero(n json.Number) string {
	if n == "" {
		return "0"
	}
	return n.String()
}

// cacheKey rounds coordinates to 4 decimals (~11 m) so nearby reports share
// a cache entry.
func cacheKey(c domain.Coordinates) string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}
