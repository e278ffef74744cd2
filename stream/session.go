// Package stream maintains the portal's push channel: a websocket
// session speaking STOMP over SockJS framing. The session dials,
// performs the CONNECT and SUBSCRIBE handshake, narrows updates to the
// configured device ids, sends client heartbeats, and hands received
// message bodies to the caller through a bounded queue. A lost
// connection is re-established after a fixed delay, indefinitely, with
// fresh session identifiers and a fresh bearer token each cycle.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/collarkit/auth"
	"github.com/c360/collarkit/errors"
	"github.com/c360/collarkit/metric"
	"github.com/c360/collarkit/pkg/buffer"
	"github.com/c360/collarkit/pkg/retry"
	"github.com/c360/collarkit/sockjs"
	"github.com/c360/collarkit/stomp"
)

// State is the session's connection state.
type State int32

const (
	// StateDisconnected means no websocket is open.
	StateDisconnected State = iota
	// StateOpening means the transport is dialing or waiting for the
	// open frame.
	StateOpening
	// StateAwaitingConnected means CONNECT was sent and the session is
	// waiting for the broker's CONNECTED frame.
	StateAwaitingConnected
	// StateSubscribed means the handshake completed and subscriptions
	// are active.
	StateSubscribed
	// StateClosing means Stop was called.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateOpening:
		return "opening"
	case StateAwaitingConnected:
		return "awaiting_connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Handler receives the body of each MESSAGE frame, on a single
// dispatcher goroutine, together with the destination it arrived on.
type Handler func(destination, body string)

// Config holds streaming session configuration.
type Config struct {
	// StreamURL is the SockJS base endpoint, e.g. "wss://host/sc".
	StreamURL string

	// DeviceIDs narrows push updates to these devices. Empty means the
	// subscribe filter is not sent.
	DeviceIDs []int64

	// HeartbeatInterval is the client heartbeat cadence. Defaults to 9s,
	// slightly inside the 10s promised during CONNECT.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the fixed pause between reconnection attempts.
	// Defaults to 10s.
	ReconnectDelay time.Duration

	// QueueSize bounds the dispatch queue. Defaults to 256.
	QueueSize int

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// message is one queued MESSAGE frame awaiting dispatch.
type message struct {
	destination string
	body        string
}

// Session is the streaming push session.
type Session struct {
	name    string
	config  Config
	tokens  *auth.Manager
	handler Handler
	logger  *slog.Logger

	reconnect retry.Config
	queue     *buffer.Ring[message]

	conn   *websocket.Conn
	connMu sync.Mutex

	// writeMu serializes frame writes; gorilla connections allow one
	// concurrent writer.
	writeMu sync.Mutex

	state atomic.Int32

	// Lifecycle management
	shutdown     chan struct{}
	shutdownOnce sync.Once
	started      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lifecycleMu  sync.Mutex

	lastActivity atomic.Value // stores time.Time

	metrics *Metrics
}

// NewSession creates a streaming session. The handler must be non-nil;
// it is invoked on a single goroutine in arrival order.
func NewSession(
	name string,
	config Config,
	tokens *auth.Manager,
	handler Handler,
	metricsRegistry *metric.Registry,
	logger *slog.Logger,
) (*Session, error) {
	if config.StreamURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"stream", "NewSession", "stream URL required")
	}
	if tokens == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"stream", "NewSession", "credential manager required")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"stream", "NewSession", "handler required")
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 9 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 10 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Dialer == nil {
		config.Dialer = &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	queue, err := buffer.NewRing[message](config.QueueSize,
		buffer.WithOverflowPolicy[message](buffer.DropOldest))
	if err != nil {
		return nil, errors.WrapFatal(err, "stream", "NewSession", "create dispatch queue")
	}

	return &Session{
		name:      name,
		config:    config,
		tokens:    tokens,
		handler:   handler,
		logger:    logger.With("component", name),
		reconnect: retry.Fixed(config.ReconnectDelay),
		queue:     queue,
		shutdown:  make(chan struct{}),
		metrics:   newMetrics(metricsRegistry, name),
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connected reports whether the handshake completed on the current
// connection.
func (s *Session) Connected() bool {
	return s.State() == StateSubscribed
}

// LastActivity returns the time of the most recent received frame.
func (s *Session) LastActivity() time.Time {
	if v := s.lastActivity.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// Start launches the connect loop and the dispatcher.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "stream", "Start", "check started state")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.connectLoop(sessionCtx)
	go s.dispatch(sessionCtx)

	s.started.Store(true)
	return nil
}

// Stop closes the session. It is safe to call more than once; the
// second call returns immediately.
func (s *Session) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.state.Store(int32(StateClosing))
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
	s.cancel()
	s.closeConn()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"stream", "Stop", "wait for goroutines")
	}

	_ = s.queue.Close()
	s.state.Store(int32(StateDisconnected))
	s.started.Store(false)
	return nil
}

// connectLoop runs connection cycles until shutdown. Every cycle dials
// with fresh identifiers and a fresh token; failures wait the fixed
// reconnect delay and try again, with no attempt cap.
func (s *Session) connectLoop(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		if err := s.runConnection(ctx); err != nil {
			s.trackError("connection")
			s.logger.Warn("streaming connection ended", "error", err)
		}
		s.state.Store(int32(StateDisconnected))

		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		attempt++
		if s.metrics != nil {
			s.metrics.reconnectAttempts.Inc()
		}
		delay := s.reconnect.DelayFor(attempt)
		s.logger.Info("reconnecting", "delay", delay, "attempt", attempt)
		if err := retry.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// runConnection performs one full connection cycle: dial, handshake,
// read until the connection drops or shutdown.
func (s *Session) runConnection(ctx context.Context) error {
	s.state.Store(int32(StateOpening))

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "stream", "runConnection", "obtain token")
	}

	endpoint := s.sessionURL(token)
	conn, resp, err := s.config.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return errors.WrapTransient(err, "stream", "runConnection", "dial websocket")
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.connectionActive.Set(1)
	}
	defer func() {
		s.closeConn()
		if s.metrics != nil {
			s.metrics.connectionActive.Set(0)
		}
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	return s.readLoop(connCtx, conn)
}

// readLoop consumes transport frames until the connection drops. The
// handshake is driven from here: the open frame triggers CONNECT, the
// CONNECTED frame triggers subscriptions and the heartbeat ticker.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			return errors.WrapTransient(errors.ErrConnectionLost,
				"stream", "readLoop", err.Error())
		}

		s.lastActivity.Store(time.Now())

		frame, err := sockjs.Decode(raw)
		if err != nil {
			s.trackError("framing")
			s.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.framesReceived.WithLabelValues(s.name, frame.Type.String()).Inc()
		}

		switch frame.Type {
		case sockjs.FrameOpen:
			if err := s.writeFrame(conn, stomp.Connect()); err != nil {
				return err
			}
			s.state.Store(int32(StateAwaitingConnected))

		case sockjs.FrameHeartbeat:
			// Activity already recorded above.

		case sockjs.FrameArray:
			for _, payload := range frame.Payloads {
				if err := s.handlePayload(ctx, conn, payload); err != nil {
					return err
				}
			}

		case sockjs.FrameClose:
			s.logger.Debug("server closed session", "body", frame.Raw)
			return errors.WrapTransient(errors.ErrConnectionLost,
				"stream", "readLoop", "server close frame")

		default:
			s.logger.Debug("ignoring unknown frame", "raw", frame.Raw)
		}
	}
}

// handlePayload processes one STOMP payload from an array frame.
func (s *Session) handlePayload(ctx context.Context, conn *websocket.Conn, payload string) error {
	frames, err := stomp.Parse(payload)
	if err != nil {
		s.trackError("decode")
		s.logger.Warn("skipping undecodable frames", "error", err)
	}

	for _, frame := range frames {
		switch frame.Command {
		case stomp.CommandConnected:
			if err := s.completeHandshake(ctx, conn); err != nil {
				return err
			}

		case stomp.CommandMessage:
			s.enqueueMessage(frame)

		case stomp.CommandError:
			s.trackError("broker")
			s.logger.Warn("broker error frame",
				"message", frame.Header("message"), "body", frame.Body)

		default:
			s.logger.Debug("ignoring frame", "command", frame.Command)
		}
	}
	return nil
}

// completeHandshake subscribes to both queues, sends the device filter,
// and starts the heartbeat ticker.
func (s *Session) completeHandshake(ctx context.Context, conn *websocket.Conn) error {
	if err := s.writeFrame(conn, stomp.Subscribe("sub-0", stomp.DestMessages)); err != nil {
		return err
	}
	if err := s.writeFrame(conn, stomp.Subscribe("sub-1", stomp.DestPortal)); err != nil {
		return err
	}

	if len(s.config.DeviceIDs) > 0 {
		body, err := stomp.DeviceFilter(s.config.DeviceIDs)
		if err != nil {
			return err
		}
		if err := s.writeFrame(conn, stomp.Send(stomp.DestSubscribe, body)); err != nil {
			return err
		}
	}

	s.state.Store(int32(StateSubscribed))
	s.logger.Info("streaming session subscribed", "devices", len(s.config.DeviceIDs))

	s.wg.Add(1)
	go s.heartbeatLoop(ctx, conn)
	return nil
}

// heartbeatLoop sends the client heartbeat until the connection context
// ends.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.writeFrame(conn, stomp.Heartbeat()); err != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.heartbeatsSent.Inc()
			}
		}
	}
}

// enqueueMessage queues a MESSAGE body for dispatch. Empty and
// non-JSON bodies are dropped here so the handler only sees usable
// updates.
func (s *Session) enqueueMessage(frame stomp.Frame) {
	destination := frame.Header("destination")

	if frame.Body == "" || !json.Valid([]byte(frame.Body)) {
		if s.metrics != nil {
			s.metrics.payloadsDropped.WithLabelValues(s.name, "invalid_body").Inc()
		}
		s.logger.Debug("dropping message with unusable body", "destination", destination)
		return
	}

	if s.metrics != nil {
		s.metrics.messagesReceived.WithLabelValues(s.name, destination).Inc()
	}

	if err := s.queue.Write(message{destination: destination, body: frame.Body}); err != nil {
		if s.metrics != nil {
			s.metrics.payloadsDropped.WithLabelValues(s.name, "queue_closed").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.queueDepth.Set(float64(s.queue.Size()))
	}
}

// dispatch delivers queued message bodies to the handler, in order, on
// this single goroutine.
func (s *Session) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-s.queue.Wait():
		}

		for {
			msg, ok := s.queue.Read()
			if !ok {
				break
			}
			s.deliver(msg)
			if s.metrics != nil {
				s.metrics.queueDepth.Set(float64(s.queue.Size()))
			}
		}
	}
}

// deliver invokes the handler with a panic guard so a misbehaving
// consumer cannot take down the session.
func (s *Session) deliver(msg message) {
	defer func() {
		if r := recover(); r != nil {
			s.trackError("handler_panic")
			s.logger.Error("handler panicked", "panic", r, "destination", msg.destination)
		}
	}()
	s.handler(msg.destination, msg.body)
}

// writeFrame wraps a payload in the outer framing and writes it.
func (s *Session) writeFrame(conn *websocket.Conn, payload string) error {
	data, err := sockjs.Encode(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "stream", "writeFrame", "write frame")
	}
	return nil
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

func (s *Session) trackError(errorType string) {
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(s.name, errorType).Inc()
	}
}

// sessionURL builds the per-connection endpoint. SockJS routes on a
// server id and a session id; both are regenerated for every cycle.
func (s *Session) sessionURL(token string) string {
	return fmt.Sprintf("%s/%s/%s/websocket?access_token=%s",
		s.config.StreamURL, serverID(), sessionID(), url.QueryEscape(token))
}

const sessionAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// serverID returns a random three digit, zero padded id.
func serverID() string {
	return fmt.Sprintf("%03d", rand.Intn(1000))
}

// sessionID returns a random eight character lowercase alphanumeric id.
func sessionID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = sessionAlphabet[rand.Intn(len(sessionAlphabet))]
	}
	return string(b)
}
