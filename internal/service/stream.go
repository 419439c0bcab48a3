package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/g3ti/rtcc-stream/internal/adapter/pubsub"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/g3ti/rtcc-stream/internal/synthetic"
	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupWindow bounds the remembered event IDs used to drop duplicates that
// can appear across a reconnect.
const dedupWindow = 2048

// Transport is the connection surface the orchestrator drives. Implemented by
// the websocket client; narrowed here so tests can substitute a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(t model.MessageType, payload any)
	Subscribe(f model.Filter)
	Unsubscribe()
	AcknowledgeEvent(id string, notes string)
	OnEvent(h func(model.Event))
	OnStateChange(obs func(model.ConnState))
	State() model.ConnState
}

// EventStream is the single subscription surface the rest of the application
// sees. It is backed by the real transport when healthy and by the synthetic
// stream otherwise; downstream code never branches on which source is active.
type EventStream interface {
	Connect(ctx context.Context) error
	Subscribe(cb func(model.Event)) (unsubscribe func())
	SetFilter(f model.Filter)
	Send(t model.MessageType, payload any)
	Acknowledge(id string, notes string)
	Fallback() bool
	Close()
}

// Interface guard
var _ EventStream = (*StreamService)(nil)

// StreamService composes the transport client and the synthetic stream
// manager behind one subscriber set. The real-to-synthetic transition is
// one-way and sticky per connect lifecycle: only a fresh explicit Connect
// returns to the real source.
type StreamService struct {
	transport  Transport
	synthetic  synthetic.Streamer
	store      reachability.Store
	dispatcher pubsub.Dispatcher
	logger     *slog.Logger

	mu         sync.Mutex
	subs       map[int]func(model.Event)
	nextID     int
	filter     *model.Filter
	fallback   bool
	closed     bool
	synthUnsub func()
	seen       *lru.Cache[string, struct{}]
}

func NewStreamService(
	transport Transport,
	synth synthetic.Streamer,
	store reachability.Store,
	dispatcher pubsub.Dispatcher,
	logger *slog.Logger,
) *StreamService {
	seen, _ := lru.New[string, struct{}](dedupWindow)

	s := &StreamService{
		transport:  transport,
		synthetic:  synth,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		subs:       make(map[int]func(model.Event)),
		seen:       seen,
	}

	s.transport.OnEvent(s.deliver)
	s.transport.OnStateChange(s.onTransportState)
	return s
}

// Connect starts a fresh lifecycle. When demo mode is forced on, the real
// transport is skipped entirely and the synthetic stream activates at once.
// Otherwise the transport attempts to connect and retries per its backoff
// policy; the orchestrator reacts to the degraded state by switching over.
func (s *StreamService) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.closed = false
	if s.fallback {
		// A fresh explicit connect is the only way back to the real source.
		s.fallback = false
		if s.synthUnsub != nil {
			s.synthUnsub()
			s.synthUnsub = nil
		}
		s.synthetic.Stop()
	}
	s.mu.Unlock()

	if s.store.DemoMode() {
		s.logger.Info("demo mode forced on, skipping real transport")
		s.activateFallback("demo mode")
		return nil
	}

	// Failures here are non-fatal: the transport keeps retrying and the
	// degraded transition drives the fallback.
	return s.transport.Connect(ctx)
}

// Subscribe registers cb with the orchestrator's own subscriber set. Events
// from whichever source is active are delivered transparently.
func (s *StreamService) Subscribe(cb func(model.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cb

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetFilter installs the subscription filter (last-write-wins). It is pushed
// to the transport when the real source is active and applied locally to
// synthetic events in fallback mode, so both sources honor it.
func (s *StreamService) SetFilter(f model.Filter) {
	s.mu.Lock()
	s.filter = &f
	fallback := s.fallback
	s.mu.Unlock()

	if !fallback {
		s.transport.Subscribe(f)
	}
}

// Send forwards to the transport only while the real source is connected.
// Synthetic mode is receive-only: sends there are logged no-ops.
func (s *StreamService) Send(t model.MessageType, payload any) {
	s.mu.Lock()
	fallback := s.fallback
	s.mu.Unlock()

	if fallback {
		s.logger.Info("send ignored: synthetic mode is receive-only", "type", t)
		return
	}
	s.transport.Send(t, payload)
}

// Acknowledge reports an event as handled. A logged no-op in fallback mode.
func (s *StreamService) Acknowledge(id string, notes string) {
	s.mu.Lock()
	fallback := s.fallback
	s.mu.Unlock()

	if fallback {
		s.logger.Info("acknowledge ignored: synthetic mode is receive-only", "event_id", id)
		return
	}
	s.transport.AcknowledgeEvent(id, notes)
}

// Fallback reports whether the synthetic source is currently active.
func (s *StreamService) Fallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Close tears down whichever source is active and clears all subscribers.
func (s *StreamService) Close() {
	s.mu.Lock()
	s.closed = true
	unsub := s.synthUnsub
	s.synthUnsub = nil
	s.fallback = false
	s.subs = make(map[int]func(model.Event))
	s.mu.Unlock()

	s.transport.Disconnect()
	if unsub != nil {
		unsub()
	}
	s.synthetic.Stop()
	s.seen.Purge()
}

func (s *StreamService) onTransportState(st model.ConnState) {
	switch st {
	case model.StateConnected:
		s.mu.Lock()
		fallback := s.fallback
		s.mu.Unlock()
		if !fallback {
			// Real source is healthy; make sure the synthetic schedule is idle.
			s.synthetic.Stop()
		}
	case model.StateDegraded:
		s.activateFallback("reconnect budget exhausted")
	}
}

// activateFallback performs the one-way switch to the synthetic source.
func (s *StreamService) activateFallback(reason string) {
	s.mu.Lock()
	if s.fallback || s.closed {
		s.mu.Unlock()
		return
	}
	s.fallback = true
	s.synthUnsub = s.synthetic.Subscribe(s.deliver)
	s.mu.Unlock()

	s.store.SetAvailable(false)
	s.synthetic.Start()
	s.logger.Warn("switched to synthetic stream", "reason", reason)
}

// deliver is the single relay for both sources: dedup, filter, fan out to
// subscribers, then publish on the in-process bus. A panicking subscriber
// never blocks the others.
func (s *StreamService) deliver(ev model.Event) {
	id := ev.ID.String()
	if s.seen.Contains(id) {
		s.logger.Debug("duplicate event dropped", "event_id", id)
		return
	}
	s.seen.Add(id, struct{}{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.filter != nil && !s.filter.Matches(ev) {
		s.mu.Unlock()
		return
	}
	subs := make([]func(model.Event), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		s.safeInvoke(cb, ev)
	}

	if err := s.dispatcher.Publish(context.Background(), ev); err != nil {
		s.logger.Warn("bus publish failed", "event_id", id, "err", err)
	}
}

func (s *StreamService) safeInvoke(cb func(model.Event), ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream subscriber panicked", "err", r, "event_id", ev.ID)
		}
	}()
	cb(ev)
}
