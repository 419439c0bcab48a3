package sim

import (
	"sync"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/google/uuid"
)

// session is one connected stream client. Its mailbox decouples the broadcast
// loop from individual socket writes, so a slow consumer never stalls
// delivery to the rest.
type session struct {
	id      uuid.UUID
	mailbox chan model.Event

	mu     sync.Mutex
	filter *model.Filter

	doneCh    chan struct{}
	closeOnce sync.Once
}

func newSession(bufferSize int) *session {
	return &session{
		id:      uuid.New(),
		mailbox: make(chan model.Event, bufferSize),
		doneCh:  make(chan struct{}),
	}
}

// setFilter replaces the active filter, last-write-wins.
func (s *session) setFilter(f *model.Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// wants reports whether ev passes the session's filter.
func (s *session) wants(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return true
	}
	return s.filter.Matches(ev)
}

// push enqueues ev without blocking; a full mailbox drops the event.
func (s *session) push(ev model.Event) bool {
	select {
	case <-s.doneCh:
		return false
	case s.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.doneCh)
	})
}

// Hub is the registry of live sessions. Lookups are lock-free via sync.Map;
// per-session state is guarded inside each session.
type Hub struct {
	sessions sync.Map // uuid.UUID -> *session
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) register(s *session) {
	h.sessions.Store(s.id, s)
}

func (h *Hub) unregister(id uuid.UUID) {
	if val, ok := h.sessions.LoadAndDelete(id); ok {
		val.(*session).close()
	}
}

// Broadcast fans ev out to every session whose filter matches. Returns the
// number of sessions that accepted it.
func (h *Hub) Broadcast(ev model.Event) int {
	delivered := 0
	h.sessions.Range(func(_, val any) bool {
		s := val.(*session)
		if s.wants(ev) && s.push(ev) {
			delivered++
		}
		return true
	})
	return delivered
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll tears every session down, waking their write pumps.
func (h *Hub) CloseAll() {
	h.sessions.Range(func(key, val any) bool {
		val.(*session).close()
		h.sessions.Delete(key)
		return true
	})
}
