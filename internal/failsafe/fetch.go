// Package failsafe wraps one-shot request/response operations with the same
// real-else-synthetic policy the stream orchestrator applies to the event
// stream: race the real call against a hard deadline and substitute a
// caller-supplied fallback value on timeout or error. The underlying error
// never propagates to the caller.
package failsafe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/sony/gobreaker"
)

// Guard carries the shared pieces of the fail-safe policy: the circuit
// breaker doing the failure accounting and the reachability store recording
// outcomes for other components.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	store   reachability.Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewGuard builds a Guard with the given default timeout per call.
func NewGuard(store reachability.Store, logger *slog.Logger, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	g := &Guard{
		store:   store,
		logger:  logger,
		timeout: timeout,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "failsafe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("breaker state changed", "name", name, "from", from.String(), "to", to.String())
			switch to {
			case gobreaker.StateOpen:
				store.SetAvailable(false)
			case gobreaker.StateClosed:
				store.SetAvailable(true)
			}
		},
	})
	return g
}

// Fetch executes op, racing it against the guard's timeout. On success the
// reachability flag is set available and (result, false) is returned. On
// timeout or error the flag is set unavailable, a warning is logged, and
// (fallback, true) is returned; the second value reports that the caller is
// holding demo data.
//
// Sticky short-circuit: when the process is already flagged unavailable, or
// demo mode is forced on, Fetch returns (fallback, true) immediately without
// attempting op. Only a later successful real call (for instance a stream
// reconnect) flips the flag back.
func Fetch[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error), fallback T) (T, bool) {
	if g.store.DemoMode() || !g.store.Available() {
		g.logger.Debug("fail-safe short-circuit: backend flagged unavailable")
		return fallback, true
	}

	res, err := g.breaker.Execute(func() (any, error) {
		return g.race(ctx, func(ctx context.Context) (any, error) {
			return op(ctx)
		})
	})
	if err != nil {
		g.store.SetAvailable(false)
		g.logger.Warn("fail-safe fallback engaged", "err", err)
		return fallback, true
	}

	g.store.SetAvailable(true)
	out, ok := res.(T)
	if !ok {
		// Should not happen; race always returns T on success.
		g.logger.Warn("fail-safe fallback engaged: unexpected result type")
		return fallback, true
	}
	return out, false
}

// race runs op in its own goroutine under the guard's deadline. A panicking
// op is recovered and reported as an error, never re-raised.
func (g *Guard) race(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(ctx)
		ch <- outcome{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("operation timed out after %s: %w", g.timeout, ctx.Err())
	case o := <-ch:
		return o.val, o.err
	}
}
