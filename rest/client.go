// Package rest is the portal HTTP API client. All calls carry the
// shared bearer token; a 401 response invalidates the token and retries
// the call once with a freshly acquired one.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/collarkit/auth"
	"github.com/c360/collarkit/device"
	"github.com/c360/collarkit/errors"
	"github.com/c360/collarkit/metric"
	"github.com/c360/collarkit/pkg/cache"
)

// API paths.
const (
	pathDevices = "/map/getccs"
	pathSetMode = "/map/setccmode"
	pathSetLED  = "/map/setccled"
	pathSetBuz  = "/map/setccbuz"
	pathImage   = "/image"
)

// maxErrorBody bounds how much of an error response is kept for
// diagnostics.
const maxErrorBody = 512

// Pet images change rarely; cache them for an hour.
const imageCacheTTL = time.Hour

// Config holds REST client configuration.
type Config struct {
	BaseURL string

	// Timeout applies per request. Defaults to 30s. Ignored when
	// HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the portal REST API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	tokens     *auth.Manager
	images     *cache.TTL[[]byte]
	logger     *slog.Logger
	metrics    *Metrics
}

// Metrics holds Prometheus metrics for the REST client
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authRetries     prometheus.Counter
}

func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "Total API requests by endpoint and outcome",
		}, []string{"component", "endpoint", "outcome"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collarkit",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "API request duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"component", "endpoint"}),

		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "rest",
			Name:      "auth_retries_total",
			Help:      "Total requests retried after token invalidation",
		}),
	}

	registry.MustRegister(componentName, map[string]prometheus.Collector{
		"requests_total":   metrics.requestsTotal,
		"request_duration": metrics.requestDuration,
		"auth_retries":     metrics.authRetries,
	})

	return metrics
}

// NewClient creates a REST client.
func NewClient(
	name string,
	config Config,
	tokens *auth.Manager,
	metricsRegistry *metric.Registry,
	logger *slog.Logger,
) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"rest", "NewClient", "base URL required")
	}
	if tokens == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"rest", "NewClient", "credential manager required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	images, err := cache.New[[]byte](imageCacheTTL, 0)
	if err != nil {
		return nil, errors.WrapFatal(err, "rest", "NewClient", "create image cache")
	}

	return &Client{
		name:       name,
		baseURL:    config.BaseURL,
		httpClient: httpClient,
		tokens:     tokens,
		images:     images,
		logger:     logger.With("component", name),
		metrics:    newMetrics(metricsRegistry, name),
	}, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.images.Close()
}

// Devices fetches the full device list.
func (c *Client) Devices(ctx context.Context) ([]device.Device, error) {
	body, err := c.do(ctx, http.MethodGet, pathDevices, nil)
	if err != nil {
		return nil, err
	}

	var devices []device.Device
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Devices", "decode device list")
	}
	return devices, nil
}

// SetMode changes a collar's tracking mode.
func (c *Client) SetMode(ctx context.Context, deviceID int64, mode device.Mode) error {
	if !mode.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown mode %d", mode),
			"Client", "SetMode", "validate mode")
	}

	payload, err := json.Marshal(map[string]int64{
		"devType": 0,
		"devId":   deviceID,
		"cmdNr":   int64(mode),
	})
	if err != nil {
		return errors.WrapInvalid(err, "Client", "SetMode", "encode request")
	}

	_, err = c.do(ctx, http.MethodPost, pathSetMode, payload)
	return err
}

// SetLED switches the collar LED on or off.
func (c *Client) SetLED(ctx context.Context, deviceID int64, on bool) error {
	_, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/%d/%d", pathSetLED, deviceID, toggleValue(on)), nil)
	return err
}

// SetBuzzer switches the collar buzzer on or off.
func (c *Client) SetBuzzer(ctx context.Context, deviceID int64, on bool) error {
	_, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/%d/%d", pathSetBuz, deviceID, toggleValue(on)), nil)
	return err
}

// Image fetches a pet image by name and returns the raw bytes. Results
// are cached; images rarely change.
func (c *Client) Image(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"Client", "Image", "image name required")
	}

	if data, ok := c.images.Get(name); ok {
		return data, nil
	}

	data, err := c.do(ctx, http.MethodGet, pathImage+"/"+name, nil)
	if err != nil {
		return nil, err
	}
	c.images.Set(name, data)
	return data, nil
}

// The portal encodes on as 1 and off as 2 on the toggle endpoints.
func toggleValue(on bool) int {
	if on {
		return 1
	}
	return 2
}

// do performs an authenticated request. A 401 invalidates the shared
// token and retries exactly once with a fresh one; a second 401 is
// terminal. Other failure statuses are returned without touching the
// token.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	start := time.Now()
	body, err := c.doOnce(ctx, method, path, payload)

	if err != nil && errors.IsUnauthorized(err) {
		c.tokens.Invalidate()
		if c.metrics != nil {
			c.metrics.authRetries.Inc()
		}
		c.logger.Debug("retrying after token invalidation", "path", path)
		body, err = c.doOnce(ctx, method, path, payload)
	}

	if c.metrics != nil {
		c.metrics.requestDuration.WithLabelValues(c.name, path).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.requestsTotal.WithLabelValues(c.name, path, outcome).Inc()
	}
	return body, err
}

// doOnce performs a single request attempt.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "doOnce", "obtain token")
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.WrapFatal(err, "Client", "doOnce", "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "doOnce", "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Wrap(
			errors.NewStatusError(resp.StatusCode, string(snippet)),
			"Client", "doOnce", "request rejected")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "doOnce", "read response")
	}
	return body, nil
}
