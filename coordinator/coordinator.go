// Package coordinator owns the in-memory device state. It merges two
// feeds into one map: periodic full refreshes from the REST API and
// incremental push updates from the streaming session. Commands are
// proxied to the API and followed by an immediate refresh so state
// converges without waiting for the next poll.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/collarkit/device"
	"github.com/c360/collarkit/errors"
	"github.com/c360/collarkit/metric"
	"github.com/c360/collarkit/rest"
	"github.com/c360/collarkit/stream"
)

// API is the REST surface the coordinator consumes.
type API interface {
	Devices(ctx context.Context) ([]device.Device, error)
	SetMode(ctx context.Context, deviceID int64, mode device.Mode) error
	SetLED(ctx context.Context, deviceID int64, on bool) error
	SetBuzzer(ctx context.Context, deviceID int64, on bool) error
}

var _ API = (*rest.Client)(nil)

// SessionFactory builds the streaming session once the device filter is
// known. Swapped out in tests.
type SessionFactory func(deviceIDs []int64, handler stream.Handler) (*stream.Session, error)

// Config holds coordinator configuration.
type Config struct {
	// RefreshInterval is the polling cadence. Defaults to 180s.
	RefreshInterval time.Duration
}

// HealthStatus describes the coordinator's current condition.
type HealthStatus struct {
	Healthy       bool
	Devices       int
	StreamState   stream.State
	LastRefresh   time.Time
	RefreshErrors int64
}

// Coordinator maintains the merged device map.
type Coordinator struct {
	name    string
	config  Config
	api     API
	factory SessionFactory
	logger  *slog.Logger

	session *stream.Session

	mu      sync.RWMutex
	devices map[string]*device.Device

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	refreshNow chan struct{}

	// Lifecycle management
	shutdown     chan struct{}
	shutdownOnce sync.Once
	started      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lifecycleMu  sync.Mutex

	lastRefresh     atomic.Value // stores time.Time
	refreshFailures atomic.Int64

	metrics *Metrics
}

// Metrics holds Prometheus metrics for the coordinator
type Metrics struct {
	refreshesTotal  *prometheus.CounterVec
	pushUpdates     *prometheus.CounterVec
	devicesTracked  prometheus.Gauge
	commandsTotal   *prometheus.CounterVec
	refreshDuration prometheus.Histogram
}

func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "coordinator",
			Name:      "refreshes_total",
			Help:      "Total full refreshes by outcome",
		}, []string{"component", "outcome"}),

		pushUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "coordinator",
			Name:      "push_updates_total",
			Help:      "Total push updates by outcome",
		}, []string{"component", "outcome"}),

		devicesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collarkit",
			Subsystem: "coordinator",
			Name:      "devices_tracked",
			Help:      "Number of devices currently tracked",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "coordinator",
			Name:      "commands_total",
			Help:      "Total commands sent by kind and outcome",
		}, []string{"component", "kind", "outcome"}),

		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collarkit",
			Subsystem: "coordinator",
			Name:      "refresh_duration_seconds",
			Help:      "Full refresh duration",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
	}

	registry.MustRegister(componentName, map[string]prometheus.Collector{
		"refreshes_total":  metrics.refreshesTotal,
		"push_updates":     metrics.pushUpdates,
		"devices_tracked":  metrics.devicesTracked,
		"commands_total":   metrics.commandsTotal,
		"refresh_duration": metrics.refreshDuration,
	})

	return metrics
}

// New creates a coordinator. The factory may be nil when streaming is
// not wanted; polling still runs.
func New(
	name string,
	config Config,
	api API,
	factory SessionFactory,
	metricsRegistry *metric.Registry,
	logger *slog.Logger,
) (*Coordinator, error) {
	if api == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"coordinator", "New", "API client required")
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 180 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		name:       name,
		config:     config,
		api:        api,
		factory:    factory,
		logger:     logger.With("component", name),
		devices:    make(map[string]*device.Device),
		subs:       make(map[int]chan struct{}),
		refreshNow: make(chan struct{}, 1),
		shutdown:   make(chan struct{}),
		metrics:    newMetrics(metricsRegistry, name),
	}, nil
}

// Start performs the initial refresh, opens the streaming session with
// the device filter derived from that refresh, and launches the polling
// loop. The filter is computed once; devices appearing later are picked
// up by polling and enter the filter on the next process start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "coordinator", "Start", "check started state")
	}

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.Refresh(coordCtx); err != nil {
		cancel()
		return errors.Wrap(err, "coordinator", "Start", "initial refresh")
	}

	if c.factory != nil {
		session, err := c.factory(c.deviceIDs(), c.handlePush)
		if err != nil {
			cancel()
			return errors.Wrap(err, "coordinator", "Start", "create streaming session")
		}
		if err := session.Start(coordCtx); err != nil {
			cancel()
			return errors.Wrap(err, "coordinator", "Start", "start streaming session")
		}
		c.session = session
	}

	c.wg.Add(1)
	go c.refreshLoop(coordCtx)

	c.started.Store(true)
	return nil
}

// Stop shuts down the polling loop and the streaming session.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started.Load() {
		return nil
	}

	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})
	c.cancel()

	var sessionErr error
	if c.session != nil {
		sessionErr = c.session.Stop(timeout)
	}

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"coordinator", "Stop", "wait for goroutines")
	}

	c.started.Store(false)
	return sessionErr
}

// Health reports the coordinator's condition. Healthy means started
// with at least one successful refresh.
func (c *Coordinator) Health() HealthStatus {
	c.mu.RLock()
	count := len(c.devices)
	c.mu.RUnlock()

	var last time.Time
	if v := c.lastRefresh.Load(); v != nil {
		last = v.(time.Time)
	}

	state := stream.StateDisconnected
	if c.session != nil {
		state = c.session.State()
	}

	return HealthStatus{
		Healthy:       c.started.Load() && !last.IsZero(),
		Devices:       count,
		StreamState:   state,
		LastRefresh:   last,
		RefreshErrors: c.refreshFailures.Load(),
	}
}

// Refresh fetches the full device list and replaces the map. On failure
// the previous map is kept; stale state beats no state.
func (c *Coordinator) Refresh(ctx context.Context) error {
	start := time.Now()
	devices, err := c.api.Devices(ctx)
	if err != nil {
		c.refreshFailures.Add(1)
		if c.metrics != nil {
			c.metrics.refreshesTotal.WithLabelValues(c.name, "error").Inc()
		}
		return errors.Wrap(err, "coordinator", "Refresh", "fetch devices")
	}

	next := make(map[string]*device.Device, len(devices))
	for i := range devices {
		d := &devices[i]
		if d.ID == 0 {
			c.logger.Debug("dropping device without id")
			continue
		}
		next[d.Key()] = d
	}

	c.mu.Lock()
	c.devices = next
	c.mu.Unlock()

	c.lastRefresh.Store(time.Now())
	if c.metrics != nil {
		c.metrics.refreshesTotal.WithLabelValues(c.name, "ok").Inc()
		c.metrics.devicesTracked.Set(float64(len(next)))
		c.metrics.refreshDuration.Observe(time.Since(start).Seconds())
	}
	c.logger.Debug("refreshed devices", "count", len(next))
	c.notify()
	return nil
}

// handlePush applies one streamed update. Unknown devices are inserted;
// known devices merge field by field so absent fields keep their last
// polled value.
func (c *Coordinator) handlePush(destination, body string) {
	var update device.Device
	if err := json.Unmarshal([]byte(body), &update); err != nil {
		if c.metrics != nil {
			c.metrics.pushUpdates.WithLabelValues(c.name, "decode_error").Inc()
		}
		c.logger.Warn("discarding undecodable push update",
			"destination", destination, "error", err)
		return
	}
	if update.ID == 0 {
		if c.metrics != nil {
			c.metrics.pushUpdates.WithLabelValues(c.name, "no_id").Inc()
		}
		c.logger.Debug("discarding push update without id", "destination", destination)
		return
	}

	key := update.Key()
	c.mu.Lock()
	if existing, ok := c.devices[key]; ok {
		existing.Merge(&update)
	} else {
		c.devices[key] = update.Clone()
	}
	count := len(c.devices)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.pushUpdates.WithLabelValues(c.name, "ok").Inc()
		c.metrics.devicesTracked.Set(float64(count))
	}
	c.logger.Debug("applied push update", "device", key)
	c.notify()
}

func (c *Coordinator) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
		case <-c.refreshNow:
		}

		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("periodic refresh failed, keeping previous state", "error", err)
		}
	}
}

// requestRefresh schedules an immediate refresh without blocking.
func (c *Coordinator) requestRefresh() {
	select {
	case c.refreshNow <- struct{}{}:
	default:
	}
}

// SetMode sends a mode change command and schedules a refresh.
func (c *Coordinator) SetMode(ctx context.Context, deviceID int64, mode device.Mode) error {
	return c.command(ctx, "set_mode", func() error {
		return c.api.SetMode(ctx, deviceID, mode)
	})
}

// SetLED toggles the collar LED and schedules a refresh.
func (c *Coordinator) SetLED(ctx context.Context, deviceID int64, on bool) error {
	return c.command(ctx, "set_led", func() error {
		return c.api.SetLED(ctx, deviceID, on)
	})
}

// SetBuzzer toggles the collar buzzer and schedules a refresh.
func (c *Coordinator) SetBuzzer(ctx context.Context, deviceID int64, on bool) error {
	return c.command(ctx, "set_buzzer", func() error {
		return c.api.SetBuzzer(ctx, deviceID, on)
	})
}

func (c *Coordinator) command(_ context.Context, kind string, fn func() error) error {
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.metrics != nil {
		c.metrics.commandsTotal.WithLabelValues(c.name, kind, outcome).Inc()
	}
	if err != nil {
		return err
	}
	c.requestRefresh()
	return nil
}

// Device returns a copy of one device by key.
func (c *Coordinator) Device(key string) (*device.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[key]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Snapshot returns copies of all devices, ordered by id.
func (c *Coordinator) Snapshot() []*device.Device {
	c.mu.RLock()
	out := make([]*device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// deviceIDs returns the tracked numeric device ids, ordered, for the
// streaming subscribe filter.
func (c *Coordinator) deviceIDs() []int64 {
	snapshot := c.Snapshot()
	ids := make([]int64, 0, len(snapshot))
	for _, d := range snapshot {
		ids = append(ids, d.ID)
	}
	return ids
}

// Subscribe registers for change notifications. The channel receives a
// coalesced signal after refreshes and push updates; read the new state
// via Snapshot or Device. Release with Unsubscribe.
func (c *Coordinator) Subscribe() (int, <-chan struct{}) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan struct{}, 1)
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a notification subscription.
func (c *Coordinator) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, id)
}

func (c *Coordinator) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
