package failsafe

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Incidents int
}

func testGuard(t *testing.T, timeout time.Duration) (*Guard, reachability.Store) {
	t.Helper()
	store := reachability.NewMemoryStore()
	return NewGuard(store, slog.New(slog.DiscardHandler), timeout), store
}

func TestFetchReturnsRealResultBeforeTimeout(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 100*time.Millisecond)

	got, isDemo := Fetch(context.Background(), g, func(context.Context) (snapshot, error) {
		return snapshot{Incidents: 7}, nil
	}, snapshot{Incidents: 0})

	assert.False(t, isDemo)
	assert.Equal(t, 7, got.Incidents)
	assert.True(t, store.Available())
}

func TestFetchFallsBackOnTimeout(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 30*time.Millisecond)

	got, isDemo := Fetch(context.Background(), g, func(ctx context.Context) (snapshot, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return snapshot{Incidents: 7}, nil
	}, snapshot{Incidents: 3})

	assert.True(t, isDemo)
	assert.Equal(t, 3, got.Incidents)
	assert.False(t, store.Available())
}

func TestFetchFallsBackOnError(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 100*time.Millisecond)

	got, isDemo := Fetch(context.Background(), g, func(context.Context) ([]string, error) {
		return nil, errors.New("connection refused")
	}, []string{"fixture"})

	assert.True(t, isDemo)
	assert.Equal(t, []string{"fixture"}, got)
	assert.False(t, store.Available())
}

func TestFetchNeverPropagatesPanics(t *testing.T) {
	t.Parallel()

	g, _ := testGuard(t, 100*time.Millisecond)

	require.NotPanics(t, func() {
		got, isDemo := Fetch(context.Background(), g, func(context.Context) (int, error) {
			panic("exploded downstream")
		}, 42)
		assert.True(t, isDemo)
		assert.Equal(t, 42, got)
	})
}

func TestFetchStickyShortCircuit(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 20*time.Millisecond)

	// First call times out and flags the backend unavailable.
	_, isDemo := Fetch(context.Background(), g, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 1, ctx.Err()
	}, -1)
	require.True(t, isDemo)
	require.False(t, store.Available())

	// Second call would succeed, but the sticky flag short-circuits it.
	attempted := false
	got, isDemo := Fetch(context.Background(), g, func(context.Context) (int, error) {
		attempted = true
		return 1, nil
	}, -1)

	assert.True(t, isDemo)
	assert.Equal(t, -1, got)
	assert.False(t, attempted, "operation must not run while flagged unavailable")
}

func TestFetchResumesAfterExternalRecovery(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 50*time.Millisecond)

	store.SetAvailable(false)
	// A successful real call elsewhere (e.g. a stream reconnect) resets the flag.
	store.SetAvailable(true)

	got, isDemo := Fetch(context.Background(), g, func(context.Context) (int, error) {
		return 9, nil
	}, -1)

	assert.False(t, isDemo)
	assert.Equal(t, 9, got)
}

func TestFetchDemoModeShortCircuits(t *testing.T) {
	t.Parallel()

	g, store := testGuard(t, 50*time.Millisecond)
	store.SetDemoMode(true)

	attempted := false
	got, isDemo := Fetch(context.Background(), g, func(context.Context) (int, error) {
		attempted = true
		return 1, nil
	}, 5)

	assert.True(t, isDemo)
	assert.Equal(t, 5, got)
	assert.False(t, attempted)
}
