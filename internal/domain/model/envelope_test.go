package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeCarriesTypedPayload(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeAcknowledge, AckPayload{EventID: "ev-1", Notes: "handled"})
	require.NoError(t, err)
	assert.Equal(t, TypeAcknowledge, env.Type)
	assert.False(t, env.Timestamp.IsZero())

	var ack AckPayload
	require.NoError(t, env.DecodePayload(&ack))
	assert.Equal(t, "ev-1", ack.EventID)
	assert.Equal(t, "handled", ack.Notes)
}

func TestNewEnvelopeNilPayload(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypePing, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)

	var dst AckPayload
	assert.Error(t, env.DecodePayload(&dst))
}

func TestEnvelopeRoundTripsOverJSON(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeError, ErrorPayload{Code: "bad_filter", Message: "nope"})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeError, decoded.Type)

	var p ErrorPayload
	require.NoError(t, decoded.DecodePayload(&p))
	assert.Equal(t, "bad_filter", p.Code)
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	hit := Event{Kind: KindLocationHit, Source: "lpr-camera-01"}
	alert := Event{Kind: KindAcousticAlert, Source: "acoustic-array-03"}

	assert.True(t, Filter{}.Matches(hit), "empty filter means all")

	byKind := Filter{Kinds: []EventKind{KindLocationHit}}
	assert.True(t, byKind.Matches(hit))
	assert.False(t, byKind.Matches(alert))

	bySource := Filter{Sources: []string{"acoustic-array-03"}}
	assert.False(t, bySource.Matches(hit))
	assert.True(t, bySource.Matches(alert))

	both := Filter{Kinds: []EventKind{KindAcousticAlert}, Sources: []string{"lpr-camera-01"}}
	assert.False(t, both.Matches(hit), "kind mismatch")
	assert.False(t, both.Matches(alert), "source mismatch")
}

func TestEventKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, EventKind("weather-report").Valid())
}
