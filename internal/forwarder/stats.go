package forwarder

import (
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/events"
)

type kindCounters struct {
	received  atomic.Uint64
	forwarded atomic.Uint64
}

// stats is written by the forwarder loop and read by the status API
type stats struct {
	started       time.Time
	kinds         map[events.Kind]*kindCounters
	cursorCount   atomic.Uint64
	notifyErrors  atomic.Uint64
	lastForwarded atomic.Int64
}

func newStats() *stats {
	s := &stats{
		started: time.Now(),
		kinds:   make(map[events.Kind]*kindCounters, len(events.Kinds)),
	}
	for _, k := range events.Kinds {
		s.kinds[k] = &kindCounters{}
	}
	return s
}

// KindStats counts events of one kind
type KindStats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
}

// Snapshot is a point-in-time copy of the forwarder statistics
type Snapshot struct {
	Started          time.Time                 `json:"started"`
	SamplingInterval int                       `json:"sampling_interval"`
	CursorCount      uint64                    `json:"cursor_count"`
	Forwarded        uint64                    `json:"forwarded"`
	NotifyErrors     uint64                    `json:"notify_errors"`
	LastForwarded    *time.Time                `json:"last_forwarded,omitempty"`
	Kinds            map[events.Kind]KindStats `json:"kinds"`
}

func (s *stats) snapshot(interval int) Snapshot {
	snap := Snapshot{
		Started:          s.started,
		SamplingInterval: interval,
		CursorCount:      s.cursorCount.Load(),
		NotifyErrors:     s.notifyErrors.Load(),
		Kinds:            make(map[events.Kind]KindStats, len(s.kinds)),
	}
	for k, c := range s.kinds {
		ks := KindStats{Received: c.received.Load(), Forwarded: c.forwarded.Load()}
		snap.Kinds[k] = ks
		snap.Forwarded += ks.Forwarded
	}
	if last := s.lastForwarded.Load(); last != 0 {
		t := time.Unix(0, last)
		snap.LastForwarded = &t
	}
	return snap
}
