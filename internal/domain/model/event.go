package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the operational event categories delivered to the
// dashboard. The set is closed; unknown kinds coming off the wire are dropped
// by the transport, not surfaced here.
type EventKind string

const (
	KindLocationHit     EventKind = "location-hit"     // [LPR]
	KindAcousticAlert   EventKind = "acoustic-alert"   // [GUNSHOT_SENSOR]
	KindCaseUpdate      EventKind = "case-update"      // [CAD]
	KindPersonnelStatus EventKind = "personnel-status" // [UNITS]
)

// Kinds lists every known event kind. Order is stable and used by the
// synthetic generator for uniform selection.
var Kinds = []EventKind{
	KindLocationHit,
	KindAcousticAlert,
	KindCaseUpdate,
	KindPersonnelStatus,
}

// Valid reports whether k belongs to the closed kind enumeration.
func (k EventKind) Valid() bool {
	switch k {
	case KindLocationHit, KindAcousticAlert, KindCaseUpdate, KindPersonnelStatus:
		return true
	}
	return false
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is one unit of real-time operational information.
//
// ID is unique within a session; consumers rely on it for deduplication and
// acknowledgment. Kind-specific fields are optional and populated only for
// the matching kind.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      EventKind `json:"kind"`
	Source    string    `json:"source"`
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`

	// [KIND_SPECIFIC] Present depending on Kind.
	Confidence float64 `json:"confidence,omitempty"`  // location-hit, acoustic-alert: [75,100)
	Rounds     int     `json:"rounds,omitempty"`      // acoustic-alert: [1,6]
	Plate      string  `json:"plate,omitempty"`       // location-hit
	CaseNumber string  `json:"case_number,omitempty"` // case-update
	Unit       string  `json:"unit,omitempty"`        // personnel-status
	Status     string  `json:"status,omitempty"`      // case-update, personnel-status
}
