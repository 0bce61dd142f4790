package forwarder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/events"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/bryanchriswhite/kwinidle/internal/notifier"
)

// ErrAlreadyRunning is returned when Run is called on a running forwarder
var ErrAlreadyRunning = errors.New("forwarder already running")

// Interaction describes one MarkInteraction sent to the idle-tracking service
type Interaction struct {
	Kind  events.Kind `json:"kind"`
	Time  time.Time   `json:"time"`
	Error string      `json:"error,omitempty"`
}

// Forwarder receives workspace events and forwards interactions to a Notifier.
// All sampling and notification happens on the goroutine running Run.
type Forwarder struct {
	notifier notifier.Notifier
	sampler  *Sampler
	events   chan events.Event
	done     chan struct{}
	stats    *stats

	runMu   sync.Mutex
	running bool

	subsMu sync.Mutex
	subs   map[chan Interaction]struct{}
}

// New creates a forwarder that forwards every interval-th cursor event
func New(n notifier.Notifier, interval int) (*Forwarder, error) {
	sampler, err := NewSampler(interval)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		notifier: n,
		sampler:  sampler,
		events:   make(chan events.Event, 256),
		done:     make(chan struct{}),
		stats:    newStats(),
		subs:     make(map[chan Interaction]struct{}),
	}, nil
}

// Submit queues an event for the forwarder loop. It is the events.Handler
// given to sources. Events submitted after Run returned are discarded.
func (f *Forwarder) Submit(ev events.Event) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

// Run processes events until ctx is cancelled
func (f *Forwarder) Run(ctx context.Context) error {
	f.runMu.Lock()
	if f.running {
		f.runMu.Unlock()
		return ErrAlreadyRunning
	}
	f.running = true
	f.runMu.Unlock()

	defer close(f.done)

	log := logger.WithComponent("forwarder")
	log.Info().Int("sampling_interval", f.sampler.Interval()).Msg("Forwarding interactions")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Uint64("cursor_count", f.sampler.Count()).Msg("Forwarder stopped")
			return nil
		case ev := <-f.events:
			f.handle(ev)
		}
	}
}

// handle applies the forwarding policy to a single event
func (f *Forwarder) handle(ev events.Event) {
	counters, ok := f.stats.kinds[ev.Kind]
	if !ok {
		logger.WithComponent("forwarder").Debug().Str("kind", string(ev.Kind)).Msg("Ignoring unknown event kind")
		return
	}
	counters.received.Add(1)

	if ev.Kind.HighFrequency() {
		f.OnCursorEvent()
		return
	}
	f.notify(ev.Kind)
}

// OnCursorEvent counts a cursor movement and forwards it when the sampler says so
func (f *Forwarder) OnCursorEvent() {
	forward := f.sampler.Next()
	f.stats.cursorCount.Store(f.sampler.Count())
	if forward {
		f.notify(events.KindCursor)
	}
}

// notify sends one MarkInteraction. Errors are counted and logged, never returned.
func (f *Forwarder) notify(kind events.Kind) {
	now := time.Now()
	it := Interaction{Kind: kind, Time: now}

	if err := f.notifier.MarkInteraction(); err != nil {
		f.stats.notifyErrors.Add(1)
		it.Error = err.Error()
		logger.WithComponent("forwarder").Debug().Err(err).Str("kind", string(kind)).Msg("Interaction not delivered")
	}

	f.stats.kinds[kind].forwarded.Add(1)
	f.stats.lastForwarded.Store(now.UnixNano())
	f.publish(it)
}

// Subscribe returns a channel receiving every forwarded interaction.
// Slow subscribers miss interactions rather than delaying the loop.
func (f *Forwarder) Subscribe() chan Interaction {
	ch := make(chan Interaction, 16)
	f.subsMu.Lock()
	f.subs[ch] = struct{}{}
	f.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (f *Forwarder) Unsubscribe(ch chan Interaction) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *Forwarder) publish(it Interaction) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	for ch := range f.subs {
		select {
		case ch <- it:
		default:
		}
	}
}

// Stats returns a snapshot of the forwarding statistics
func (f *Forwarder) Stats() Snapshot {
	return f.stats.snapshot(f.sampler.Interval())
}
