// Package sim serves the real-time stream wire contract from the synthetic
// generator: a stand-in backend for demo deployments, offline review, and
// end-to-end tests. Only the wire contract is implemented; there is no
// backend business logic behind it.
package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/synthetic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Options tunes the simulator's behavior.
type Options struct {
	// Token, when set, must match the client's token query parameter.
	Token string
	// EventInterval is the period between broadcast events. Default 5s.
	EventInterval time.Duration
	// IgnorePings suppresses pong replies; used to exercise the client's
	// missed-heartbeat handling.
	IgnorePings bool
	// MailboxSize is the per-session event buffer. Default 32.
	MailboxSize int
}

func (o *Options) withDefaults() {
	if o.EventInterval <= 0 {
		o.EventInterval = 5 * time.Second
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 32
	}
}

// recentDepth bounds the snapshot window of already-broadcast events.
const recentDepth = 50

// Server implements the stream endpoint. Mount Router onto any HTTP server.
type Server struct {
	logger   *slog.Logger
	gen      *synthetic.Generator
	opts     Options
	hub      *Hub
	upgrader websocket.Upgrader

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	recent  []model.Event
}

func NewServer(gen *synthetic.Generator, logger *slog.Logger, opts Options) *Server {
	opts.withDefaults()
	return &Server{
		logger: logger,
		gen:    gen,
		opts:   opts,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP surface: the stream endpoint at /ws and the
// recent-events snapshot at /snapshot.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/ws", s.handleStream)
	r.Get("/snapshot", s.handleSnapshot)
	return r
}

// Start launches the broadcast loop. Idempotent.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.broadcastLoop(s.stopCh)
	s.logger.Info("simulator broadcasting", "interval", s.opts.EventInterval)
}

// Stop halts the broadcast loop and closes every session. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.hub.CloseAll()
	s.logger.Info("simulator stopped")
}

// Hub exposes the session registry, mainly for tests and manual triggers.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) broadcastLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.EventInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ev := s.gen.Next()
			s.remember(ev)
			n := s.hub.Broadcast(ev)
			s.logger.Debug("event broadcast", "event_id", ev.ID, "kind", ev.Kind, "sessions", n)
		}
	}
}

func (s *Server) remember(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > recentDepth {
		s.recent = s.recent[len(s.recent)-recentDepth:]
	}
}

// handleSnapshot returns the most recent broadcast events, newest last.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.URL.Query().Get("token") != s.opts.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	events := make([]model.Event, len(s.recent))
	copy(events, s.recent)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Warn("snapshot encode failed", "err", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.URL.Query().Get("token") != s.opts.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sess := newSession(s.opts.MailboxSize)
	s.hub.register(sess)
	defer s.hub.unregister(sess.id)

	s.logger.Info("stream session opened", "session_id", sess.id)

	var writeMu sync.Mutex
	write := func(t model.MessageType, payload any) error {
		env, err := model.NewEnvelope(t, payload)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(env)
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.readPump(ctx, conn, sess, write) })
	g.Go(func() error { return s.writePump(ctx, sess, write) })

	if err := g.Wait(); err != nil {
		s.logger.Debug("stream session ended", "session_id", sess.id, "err", err)
	}
	sess.close()
}

// readPump handles inbound frames for one session.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *session, write func(model.MessageType, any) error) error {
	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		switch env.Type {
		case model.TypePing:
			if s.opts.IgnorePings {
				continue
			}
			if err := write(model.TypePong, nil); err != nil {
				return err
			}

		case model.TypeSubscribe:
			var f model.Filter
			if err := env.DecodePayload(&f); err != nil {
				_ = write(model.TypeError, model.ErrorPayload{
					Code:    "bad_filter",
					Message: err.Error(),
				})
				continue
			}
			sess.setFilter(&f)
			if err := write(model.TypeSubscribed, f); err != nil {
				return err
			}

		case model.TypeUnsubscribe:
			sess.setFilter(nil)

		case model.TypeAcknowledge:
			var ack model.AckPayload
			if err := env.DecodePayload(&ack); err != nil {
				s.logger.Warn("bad acknowledge frame", "session_id", sess.id, "err", err)
				continue
			}
			if err := write(model.TypeAcknowledged, ack); err != nil {
				return err
			}

		default:
			s.logger.Debug("unsupported frame ignored", "type", env.Type, "session_id", sess.id)
		}
	}
}

// writePump drains the session mailbox onto the socket.
func (s *Server) writePump(ctx context.Context, sess *session, write func(model.MessageType, any) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.doneCh:
			return nil
		case ev := <-sess.mailbox:
			if err := write(model.TypeEvent, ev); err != nil {
				return err
			}
		}
	}
}
