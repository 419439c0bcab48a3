// Package synthetic produces a locally generated stand-in for the live event
// stream, used whenever the real source is slow, unreachable, or deliberately
// absent. Events it emits are indistinguishable in shape from real ones.
package synthetic

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/google/uuid"
)

const (
	confidenceFloor = 75.0
	confidenceSpan  = 25.0 // confidence lands in [75, 100)
	maxRounds       = 6
)

var (
	caseStatuses = []string{"open", "assigned", "updated", "closed"}
	unitStatuses = []string{"available", "en-route", "on-scene", "busy"}
	unitSigns    = []string{"Adam-1", "Adam-4", "Baker-2", "Charlie-7", "David-3", "Edward-9"}
)

// Generator produces one internally-consistent domain event per call, with a
// uniformly chosen kind and bounded pseudo-random fields. It holds no state
// beyond its randomness source and is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	center model.Location
	jitter float64 // half-width of the coordinate box, in degrees
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand injects a seeded randomness source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithCenter sets the geographic center of the jitter box.
func WithCenter(loc model.Location, jitterDeg float64) Option {
	return func(g *Generator) {
		g.center = loc
		g.jitter = jitterDeg
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		center: model.Location{Latitude: 39.2904, Longitude: -76.6122},
		jitter: 0.05,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a fresh event of a uniformly chosen kind.
func (g *Generator) Next() model.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	ev := model.Event{
		ID:        uuid.New(),
		Kind:      model.Kinds[g.rng.Intn(len(model.Kinds))],
		Location:  g.jitteredLocation(),
		Timestamp: time.Now().UTC(),
	}

	switch ev.Kind {
	case model.KindLocationHit:
		ev.Source = fmt.Sprintf("lpr-camera-%02d", 1+g.rng.Intn(24))
		ev.Confidence = confidenceFloor + g.rng.Float64()*confidenceSpan
		ev.Plate = g.plate()
		ev.Status = "unverified"
	case model.KindAcousticAlert:
		ev.Source = fmt.Sprintf("acoustic-array-%02d", 1+g.rng.Intn(12))
		ev.Confidence = confidenceFloor + g.rng.Float64()*confidenceSpan
		ev.Rounds = 1 + g.rng.Intn(maxRounds)
	case model.KindCaseUpdate:
		ev.Source = "cad"
		ev.CaseNumber = fmt.Sprintf("C-%d-%05d", time.Now().Year(), g.rng.Intn(100000))
		ev.Status = caseStatuses[g.rng.Intn(len(caseStatuses))]
	case model.KindPersonnelStatus:
		ev.Source = "dispatch"
		ev.Unit = unitSigns[g.rng.Intn(len(unitSigns))]
		ev.Status = unitStatuses[g.rng.Intn(len(unitStatuses))]
	}

	return ev
}

func (g *Generator) jitteredLocation() model.Location {
	return model.Location{
		Latitude:  g.center.Latitude + (g.rng.Float64()*2-1)*g.jitter,
		Longitude: g.center.Longitude + (g.rng.Float64()*2-1)*g.jitter,
	}
}

func (g *Generator) plate() string {
	const letters = "ABCDEFGHJKLMNPRSTUVWXYZ"
	b := make([]byte, 7)
	for i := 0; i < 3; i++ {
		b[i] = letters[g.rng.Intn(len(letters))]
	}
	b[3] = '-'
	for i := 4; i < 7; i++ {
		b[i] = byte('0' + g.rng.Intn(10))
	}
	return string(b)
}
