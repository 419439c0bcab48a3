package model

// Filter narrows an event subscription. Zero value means "all events".
// The transport holds at most one active filter; the latest subscribe call
// replaces any prior filter (last-write-wins, no merging).
type Filter struct {
	Kinds   []EventKind `json:"kinds,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, ev.Source) {
		return false
	}
	return true
}

func containsKind(kinds []EventKind, k EventKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, c := range ss {
		if c == s {
			return true
		}
	}
	return false
}
