package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
)

// EventsTopic carries every event delivered by the stream orchestrator,
// whichever source (real or synthetic) produced it.
const EventsTopic = "rtcc.stream.events"

// Dispatcher defines the high-level contract for fanning delivered events out
// to in-process consumers (console UI, recorders) without touching the
// orchestrator's subscriber set. This keeps consumers agnostic of the
// transport implementation.
type Dispatcher interface {
	Publish(ctx context.Context, ev model.Event) error
	Events(ctx context.Context) (<-chan *message.Message, error)
	Close() error
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	bus *gochannel.GoChannel
}

// NewEventDispatcher builds an in-process pub/sub bus. Subscribers attached
// after a publish do not receive earlier events.
func NewEventDispatcher(wmLogger watermill.LoggerAdapter) Dispatcher {
	return &eventDispatcher{
		bus: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, wmLogger),
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("event_id", ev.ID.String())

	if err := d.bus.Publish(EventsTopic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", EventsTopic, err)
	}
	return nil
}

func (d *eventDispatcher) Events(ctx context.Context) (<-chan *message.Message, error) {
	return d.bus.Subscribe(ctx, EventsTopic)
}

func (d *eventDispatcher) Close() error {
	return d.bus.Close()
}
