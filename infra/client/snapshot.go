// Package client holds outbound request/response connectors to the event
// platform. Every call goes through the fail-safe policy, so a dead backend
// costs one bounded attempt and the caller always gets usable data.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/failsafe"
	"github.com/g3ti/rtcc-stream/internal/synthetic"
)

// fallbackDepth is how many generated events stand in for an unreachable
// snapshot endpoint.
const fallbackDepth = 5

// SnapshotClient fetches the platform's recent-events snapshot, used to
// prefill the console feed before live delivery starts.
type SnapshotClient struct {
	url    string
	token  string
	http   *http.Client
	guard  *failsafe.Guard
	gen    *synthetic.Generator
	logger *slog.Logger
}

// NewSnapshotClient derives the snapshot endpoint from the stream URL:
// same host, http(s) scheme, /snapshot path.
func NewSnapshotClient(streamURL, token string, guard *failsafe.Guard, gen *synthetic.Generator, logger *slog.Logger) (*SnapshotClient, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot client: parse stream url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/snapshot"
	u.RawQuery = ""

	return &SnapshotClient{
		url:    u.String(),
		token:  token,
		http:   &http.Client{},
		guard:  guard,
		gen:    gen,
		logger: logger,
	}, nil
}

// Recent returns the latest events, newest last. The second value reports
// whether the data is synthetic (backend unreachable or demo mode forced).
func (c *SnapshotClient) Recent(ctx context.Context) ([]model.Event, bool) {
	return failsafe.Fetch(ctx, c.guard, c.fetch, c.fallbackEvents())
}

func (c *SnapshotClient) fetch(ctx context.Context) ([]model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		q := req.URL.Query()
		q.Set("token", c.token)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request: status %d", resp.StatusCode)
	}

	var events []model.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("snapshot request: decode: %w", err)
	}
	return events, nil
}

func (c *SnapshotClient) fallbackEvents() []model.Event {
	events := make([]model.Event, fallbackDepth)
	for i := range events {
		events[i] = c.gen.Next()
	}
	return events
}
