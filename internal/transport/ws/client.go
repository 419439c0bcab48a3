// Package ws maintains one logical duplex connection to the platform's
// real-time event source, with authentication, heartbeat, a typed
// publish/subscribe protocol, and reconnect-with-backoff.
//
// All transport failures are non-fatal to the calling process. They are
// retried per the backoff policy or surfaced through the connection state;
// nothing here ever panics out to a caller.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/g3ti/rtcc-stream/internal/transport/ws"

// Handler consumes frames of caller-defined extension types. Frame types the
// client handles internally (ping/pong, event, subscribed, acknowledged,
// error) never reach this registry.
type Handler func(env model.Envelope)

// Options tunes the connection lifecycle. Zero fields take the defaults.
type Options struct {
	URL   string
	Token string

	HeartbeatInterval time.Duration // default 30s
	ConnectTimeout    time.Duration // default 5s
	ReconnectBase     time.Duration // default 1s; delay before attempt n is base*1.5^(n-1)
	MaxAttempts       int           // default 10
	MaxPongMisses     int           // default 2; consecutive unanswered pings before forcing a reconnect
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.MaxPongMisses <= 0 {
		o.MaxPongMisses = 2
	}
}

// Client owns the persistent connection. It is the sole owner and mutator of
// the connection state; observers registered via OnStateChange react to
// transitions instead of polling.
type Client struct {
	opts   Options
	logger *slog.Logger
	store  reachability.Store
	dialer *websocket.Dialer

	mu         sync.Mutex
	state      model.ConnState
	conn       *websocket.Conn
	connStop   chan struct{}
	attempt    int
	bo         *backoff.ExponentialBackOff
	retryTimer *time.Timer
	cycle      uint64 // connect lifecycle token; bumped by Disconnect and fresh Connect
	pongMisses int
	filter     *model.Filter
	handlers   map[model.MessageType]Handler
	stateObs   []func(model.ConnState)
	eventObs   []func(model.Event)

	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func NewClient(opts Options, store reachability.Store, logger *slog.Logger) *Client {
	opts.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectBase
	bo.Multiplier = 1.5
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0 // attempts are capped by count, not wall time

	return &Client{
		opts:     opts,
		logger:   logger,
		store:    store,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
		bo:       bo,
		handlers: make(map[model.MessageType]Handler),
	}
}

// State returns the current connection state.
func (c *Client) State() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer notified on every state transition.
func (c *Client) OnStateChange(obs func(model.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateObs = append(c.stateObs, obs)
}

// OnEvent registers a consumer for delivered domain events.
func (c *Client) OnEvent(h func(model.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventObs = append(c.eventObs, h)
}

// OnMessage registers a handler for an extension frame type. Last write wins.
func (c *Client) OnMessage(t model.MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// OffMessage removes the handler for an extension frame type.
func (c *Client) OffMessage(t model.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, t)
}

// Connect opens the transport, attaching the credential as a query parameter.
// No-op when already connected or connecting. The initial attempt runs
// synchronously (bounded by the connect timeout); failures schedule
// asynchronous retries and are also returned for callers that care.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case model.StateConnected, model.StateConnecting:
		c.mu.Unlock()
		return nil
	}
	c.cycle++
	cycle := c.cycle
	c.attempt = 0
	c.bo.Reset()
	c.setStateLocked(model.StateConnecting)

	return c.dial(ctx, cycle)
}

// Disconnect closes the transport with a normal-closure code. Explicit
// disconnects are terminal: pending reconnect timers are cancelled
// synchronously and no auto-reconnect follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cycle++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.connStop != nil {
		close(c.connStop)
		c.connStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempt = 0
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setState(model.StateDisconnected)
}

// Send serializes and transmits only when connected; otherwise it logs and
// drops. It never blocks the caller beyond the socket write itself.
func (c *Client) Send(t model.MessageType, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == model.StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn("frame dropped: not connected", "type", t)
		return
	}

	env, err := model.NewEnvelope(t, payload)
	if err != nil {
		c.logger.Error("frame dropped: encode failed", "type", t, "err", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		c.logger.Warn("frame write failed", "type", t, "err", err)
	}
}

// Subscribe installs f as the active filter (last-write-wins) and sends the
// subscribe frame. The filter is replayed automatically after a reconnect.
func (c *Client) Subscribe(f model.Filter) {
	c.mu.Lock()
	c.filter = &f
	c.mu.Unlock()
	c.Send(model.TypeSubscribe, f)
}

// Unsubscribe clears the active filter.
func (c *Client) Unsubscribe() {
	c.mu.Lock()
	c.filter = nil
	c.mu.Unlock()
	c.Send(model.TypeUnsubscribe, nil)
}

// AcknowledgeEvent sends an acknowledge frame. It does not wait for the
// server's confirmation.
func (c *Client) AcknowledgeEvent(id string, notes string) {
	c.Send(model.TypeAcknowledge, model.AckPayload{EventID: id, Notes: notes})
}

// dial performs one connect attempt for the given lifecycle.
func (c *Client) dial(ctx context.Context, cycle uint64) error {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "transport.connect")
	span.SetAttributes(attribute.Int("transport.attempt", attempt))
	defer span.End()

	target, err := c.streamURL()
	if err != nil {
		c.logger.Error("invalid stream url", "err", err)
		span.RecordError(err)
		c.mu.Lock()
		if cycle != c.cycle {
			c.mu.Unlock()
			return err
		}
		c.setStateLocked(model.StateDisconnected)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("connect failed", "err", err)
		c.mu.Lock()
		if cycle != c.cycle {
			c.mu.Unlock()
			return err
		}
		c.setStateLocked(model.StateDisconnected)
		c.scheduleRetry(cycle)
		return err
	}

	c.mu.Lock()
	if cycle != c.cycle {
		// Torn down while the handshake was in flight.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.connStop = make(chan struct{})
	stop := c.connStop
	c.attempt = 0
	c.bo.Reset()
	c.pongMisses = 0
	filter := c.filter
	c.setStateLocked(model.StateConnected)

	c.store.SetAvailable(true)
	c.logger.Info("stream connected", "url", c.opts.URL)

	go c.readLoop(conn, cycle)
	go c.heartbeat(conn, stop)

	if filter != nil {
		c.Send(model.TypeSubscribe, *filter)
	}
	return nil
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// scheduleRetry arms the backoff timer for the next attempt, or transitions
// to degraded once the attempt budget is exhausted. The client never starts
// the synthetic stream itself; the orchestrator reacts to the degraded state.
func (c *Client) scheduleRetry(cycle uint64) {
	c.mu.Lock()
	if cycle != c.cycle {
		c.mu.Unlock()
		return
	}
	if c.attempt >= c.opts.MaxAttempts {
		c.setStateLocked(model.StateDegraded)
		c.logger.Error("reconnect budget exhausted", "attempts", c.opts.MaxAttempts)
		return
	}
	c.attempt++
	attempt := c.attempt
	delay := c.bo.NextBackOff()
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if cycle != c.cycle {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.setStateLocked(model.StateConnecting)

		_ = c.dial(context.Background(), cycle)
	})
	c.mu.Unlock()

	c.logger.Warn("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// readLoop pumps frames until the connection dies. Frames are dispatched in
// the order received; nothing is guaranteed across a reconnect.
func (c *Client) readLoop(conn *websocket.Conn, cycle uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnLoss(conn, cycle, err)
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Protocol error: drop the frame, keep the connection.
			c.logger.Warn("malformed frame dropped", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

// handleConnLoss reacts to an unexpected close or read error.
func (c *Client) handleConnLoss(conn *websocket.Conn, cycle uint64, err error) {
	c.mu.Lock()
	if cycle != c.cycle {
		// Explicit disconnect already tore this lifecycle down.
		c.mu.Unlock()
		return
	}
	if c.conn == conn {
		c.conn = nil
	}
	if c.connStop != nil {
		close(c.connStop)
		c.connStop = nil
	}
	c.setStateLocked(model.StateDisconnected)

	_ = conn.Close()
	c.logger.Warn("connection lost", "err", err)
	c.scheduleRetry(cycle)
}

// heartbeat sends a ping frame every interval while the connection lives.
// Repeated unanswered pings are treated as a transport error: the connection
// is closed, which routes through the normal reconnect path.
func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			misses := c.pongMisses
			c.pongMisses++
			c.mu.Unlock()

			if misses >= c.opts.MaxPongMisses {
				c.logger.Warn("heartbeat: pong missed, forcing reconnect", "misses", misses)
				_ = conn.Close() // readLoop picks this up as a connection loss
				return
			}
			c.Send(model.TypePing, nil)
		}
	}
}

// dispatch routes one frame. Known types are handled internally over a closed
// switch; anything else goes to the extension registry or is dropped.
func (c *Client) dispatch(env model.Envelope) {
	switch env.Type {
	case model.TypePong:
		c.mu.Lock()
		c.pongMisses = 0
		c.mu.Unlock()

	case model.TypePing:
		c.Send(model.TypePong, nil)

	case model.TypeEvent:
		var ev model.Event
		if err := env.DecodePayload(&ev); err != nil {
			c.logger.Warn("event frame dropped", "err", err)
			return
		}
		c.fanOutEvent(ev)

	case model.TypeSubscribed, model.TypeAcknowledged:
		c.logger.Debug("server confirmation", "type", env.Type)

	case model.TypeError:
		var p model.ErrorPayload
		if err := env.DecodePayload(&p); err != nil {
			c.logger.Warn("error frame undecodable", "err", err)
			return
		}
		c.logger.Warn("server error frame", "code", p.Code, "message", p.Message)

	default:
		c.mu.Lock()
		h, ok := c.handlers[env.Type]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("unhandled frame type dropped", "type", env.Type)
			return
		}
		c.safeInvoke(func() { h(env) })
	}
}

func (c *Client) fanOutEvent(ev model.Event) {
	c.mu.Lock()
	obs := make([]func(model.Event), len(c.eventObs))
	copy(obs, c.eventObs)
	c.mu.Unlock()

	for _, h := range obs {
		h := h
		c.safeInvoke(func() { h(ev) })
	}
}

// setState transitions the state unconditionally. Only Disconnect uses it:
// an explicit disconnect owns the lifecycle it tears down. Every other
// transition goes through setStateLocked paired with a cycle check.
func (c *Client) setState(s model.ConnState) {
	c.mu.Lock()
	c.setStateLocked(s)
}

// setStateLocked applies the transition and notifies observers. Callers hold
// c.mu (released here before observers run) and have already validated the
// lifecycle cycle under that same lock, so a dial or retry timer that lost a
// race with Disconnect can never flip the state of the new lifecycle.
func (c *Client) setStateLocked(s model.ConnState) {
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	obs := make([]func(model.ConnState), len(c.stateObs))
	copy(obs, c.stateObs)
	c.mu.Unlock()

	c.logger.Debug("state changed", "from", prev, "to", s)
	for _, o := range obs {
		o := o
		c.safeInvoke(func() { o(s) })
	}
}

// safeInvoke isolates observer and handler panics from the transport loops.
func (c *Client) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "err", r)
		}
	}()
	fn()
}
