package events

import (
	"fmt"
	"time"
)

// Kind identifies a workspace event category
type Kind string

const (
	KindCursor          Kind = "cursor"
	KindWindowActivated Kind = "window_activated"
	KindDesktopChanged  Kind = "desktop_changed"
	KindActivityChanged Kind = "activity_changed"
)

// Kinds lists every event kind in a stable order
var Kinds = []Kind{KindCursor, KindWindowActivated, KindDesktopChanged, KindActivityChanged}

// ParseKind validates a kind string received from outside the process
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// HighFrequency reports whether events of this kind are sampled before forwarding
func (k Kind) HighFrequency() bool {
	return k == KindCursor
}

// Event is a single workspace event delivered by a Source
type Event struct {
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	// Detail is free-form context such as a desktop or activity id
	Detail string `json:"detail,omitempty"`
}

// Handler receives events from a Source. Handlers must not block.
type Handler func(Event)
