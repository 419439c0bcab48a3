package synthetic

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
)

// Subscriber receives generated events. A panicking subscriber is recovered
// and logged; it never stops the schedule or delivery to other subscribers.
type Subscriber func(model.Event)

// Streamer is the fan-out surface the orchestrator binds against.
type Streamer interface {
	Start()
	Stop()
	Subscribe(cb Subscriber) (unsubscribe func())
	TriggerEvent() model.Event
}

// Interface guard
var _ Streamer = (*Manager)(nil)

// Manager runs a self-rescheduling timer loop that invokes the generator at
// jittered intervals and fans results out to subscribers. Independently
// startable and stoppable; Stop cancels the pending timer synchronously so a
// stale timer can never revive a torn-down schedule.
type Manager struct {
	gen    *Generator
	logger *slog.Logger
	minInt time.Duration
	maxInt time.Duration

	mu      sync.Mutex
	running bool
	timer   *time.Timer
	cycle   uint64 // lifecycle generation; a fired timer from an old generation is ignored
	nextID  int
	subs    map[int]Subscriber
}

// NewManager builds a stopped manager. Intervals are the bounds of the
// uniform jitter window between consecutive events.
func NewManager(gen *Generator, logger *slog.Logger, minInterval, maxInterval time.Duration) *Manager {
	if minInterval <= 0 {
		minInterval = 10 * time.Second
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &Manager{
		gen:    gen,
		logger: logger,
		minInt: minInterval,
		maxInt: maxInterval,
		subs:   make(map[int]Subscriber),
	}
}

// Start begins the schedule. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.cycle++
	m.scheduleLocked(m.cycle)
	m.logger.Info("synthetic stream started",
		"min_interval", m.minInt, "max_interval", m.maxInt)
}

// Stop cancels the pending timer. Idempotent; no further events are produced
// until Start is called again.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cycle++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Info("synthetic stream stopped")
}

// Subscribe registers cb and returns its removal function. Unsubscribing one
// subscriber does not affect others.
func (m *Manager) Subscribe(cb Subscriber) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// TriggerEvent generates and delivers one event immediately, independent of
// the schedule. Primarily for test harnesses and manual demos.
func (m *Manager) TriggerEvent() model.Event {
	ev := m.gen.Next()
	m.deliver(ev)
	return ev
}

// nextDelay draws uniformly from the inclusive [minInt, maxInt] window.
func (m *Manager) nextDelay() time.Duration {
	delay := m.minInt
	if span := m.maxInt - m.minInt; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	return delay
}

// scheduleLocked arms the next tick. Callers hold m.mu. The generation token
// guards against a timer that fired while Stop/Start raced its callback.
func (m *Manager) scheduleLocked(gen uint64) {
	m.timer = time.AfterFunc(m.nextDelay(), func() {
		m.mu.Lock()
		if !m.running || m.cycle != gen {
			m.mu.Unlock()
			return
		}
		m.scheduleLocked(gen)
		m.mu.Unlock()

		m.deliver(m.gen.Next())
	})
}

func (m *Manager) deliver(ev model.Event) {
	m.mu.Lock()
	subs := make([]Subscriber, 0, len(m.subs))
	for _, cb := range m.subs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	for _, cb := range subs {
		m.safeInvoke(cb, ev)
	}
}

// safeInvoke isolates subscriber panics so one failing consumer cannot stop
// the schedule or starve the rest.
func (m *Manager) safeInvoke(cb Subscriber, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("synthetic subscriber panicked",
				"err", r, "event_id", ev.ID, "kind", ev.Kind)
		}
	}()
	cb(ev)
}
