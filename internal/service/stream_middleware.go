package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
)

// streamMiddleware decorates an EventStream with call-level logging, keeping
// the cross-cutting concern out of the orchestrator itself.
type streamMiddleware struct {
	next   EventStream
	logger *slog.Logger
}

// Interface guard
var _ EventStream = (*streamMiddleware)(nil)

func (m *streamMiddleware) Connect(ctx context.Context) error {
	start := time.Now()
	err := m.next.Connect(ctx)
	m.logger.Debug("stream connect requested",
		"duration_ms", time.Since(start).Milliseconds(),
		"fallback", m.next.Fallback(),
		"success", err == nil,
	)
	return err
}

func (m *streamMiddleware) Subscribe(cb func(model.Event)) func() {
	return m.next.Subscribe(cb)
}

func (m *streamMiddleware) SetFilter(f model.Filter) {
	m.logger.Debug("stream filter replaced", "kinds", f.Kinds, "sources", f.Sources)
	m.next.SetFilter(f)
}

func (m *streamMiddleware) Send(t model.MessageType, payload any) {
	m.next.Send(t, payload)
}

func (m *streamMiddleware) Acknowledge(id string, notes string) {
	m.logger.Debug("event acknowledged", "event_id", id)
	m.next.Acknowledge(id, notes)
}

func (m *streamMiddleware) Fallback() bool {
	return m.next.Fallback()
}

func (m *streamMiddleware) Close() {
	m.logger.Debug("stream closed")
	m.next.Close()
}
