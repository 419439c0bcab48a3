package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	d := NewEventDispatcher(watermill.NopLogger{})
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := d.Events(ctx)
	require.NoError(t, err)

	ev := model.Event{
		ID:     uuid.New(),
		Kind:   model.KindAcousticAlert,
		Source: "sensor-3",
		Rounds: 4,
	}
	require.NoError(t, d.Publish(ctx, ev))

	select {
	case msg := <-msgs:
		var decoded model.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, ev.ID, decoded.ID)
		assert.Equal(t, ev.Rounds, decoded.Rounds)
		assert.Equal(t, string(model.KindAcousticAlert), msg.Metadata.Get("kind"))
		assert.Equal(t, ev.ID.String(), msg.Metadata.Get("event_id"))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
}

func TestLateSubscribersMissEarlierEvents(t *testing.T) {
	t.Parallel()

	d := NewEventDispatcher(watermill.NopLogger{})
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Publish(ctx, model.Event{ID: uuid.New(), Kind: model.KindCaseUpdate}))

	msgs, err := d.Events(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected replayed message %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}
