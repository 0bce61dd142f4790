package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Plasma D-Bus signal constants
const (
	virtualDesktopManagerInterface = "org.kde.KWin.VirtualDesktopManager"
	activityManagerInterface       = "org.kde.ActivityManager.Activities"
)

type signalMatch struct {
	iface  string
	member string
	kind   Kind
}

var plasmaSignals = []signalMatch{
	{virtualDesktopManagerInterface, "currentChanged", KindDesktopChanged},
	{activityManagerInterface, "CurrentActivityChanged", KindActivityChanged},
}

// DBusSignalSource turns Plasma desktop and activity signals into events.
// It complements X11Source, which has no notion of activities.
type DBusSignalSource struct {
	conn     busConn
	matches  []signalMatch
	mu       sync.Mutex
	watching bool
	stopChan chan struct{}
	doneChan chan struct{}
	signals  chan *dbus.Signal
}

// NewDBusSignalSource creates a signal source on a caller-owned connection.
// Only signals for the given kinds are subscribed; no kinds means all of them.
func NewDBusSignalSource(conn *dbus.Conn, kinds ...Kind) *DBusSignalSource {
	return newDBusSignalSource(conn, kinds...)
}

func newDBusSignalSource(conn busConn, kinds ...Kind) *DBusSignalSource {
	matches := plasmaSignals
	if len(kinds) > 0 {
		matches = nil
		for _, m := range plasmaSignals {
			for _, k := range kinds {
				if m.kind == k {
					matches = append(matches, m)
					break
				}
			}
		}
	}
	return &DBusSignalSource{conn: conn, matches: matches}
}

// Name returns the source name
func (s *DBusSignalSource) Name() string {
	return "dbus-signals"
}

// Watch subscribes to the Plasma signals. A signal that cannot be matched is
// logged and skipped so a session without the activity manager still reports
// desktop changes.
func (s *DBusSignalSource) Watch(handler Handler) error {
	log := logger.WithComponent("dbus-signals")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return ErrAlreadyWatching
	}

	subscribed := 0
	for _, m := range s.matches {
		if err := s.conn.AddMatchSignal(
			dbus.WithMatchInterface(m.iface),
			dbus.WithMatchMember(m.member),
		); err != nil {
			log.Warn().Err(err).Str("signal", m.iface+"."+m.member).Msg("Failed to add signal match")
			continue
		}
		log.Debug().Str("signal", m.iface+"."+m.member).Msg("Subscribed to signal")
		subscribed++
	}
	if subscribed == 0 {
		return fmt.Errorf("no Plasma signals could be subscribed")
	}

	s.watching = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.signals = make(chan *dbus.Signal, 10)
	s.conn.Signal(s.signals)

	go s.watchSignals(handler, s.signals, s.stopChan, s.doneChan)
	return nil
}

// watchSignals listens for D-Bus signals until stop is closed
func (s *DBusSignalSource) watchSignals(handler Handler, signals chan *dbus.Signal, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			if ev, ok := eventForSignal(s.matches, sig); ok {
				handler(ev)
			}
		}
	}
}

// eventForSignal maps a received signal onto an event kind
func eventForSignal(matches []signalMatch, sig *dbus.Signal) (Event, bool) {
	for _, m := range matches {
		if sig.Name != m.iface+"."+m.member {
			continue
		}
		ev := Event{Kind: m.kind, Time: time.Now(), Source: "dbus-signals"}
		if len(sig.Body) > 0 {
			if detail, ok := sig.Body[0].(string); ok {
				ev.Detail = detail
			}
		}
		return ev, true
	}
	return Event{}, false
}

// StopWatching removes the signal matches and stops the listener goroutine
func (s *DBusSignalSource) StopWatching() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.watching {
		return
	}
	s.watching = false
	close(s.stopChan)
	<-s.doneChan
	s.conn.RemoveSignal(s.signals)

	for _, m := range s.matches {
		if err := s.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(m.iface),
			dbus.WithMatchMember(m.member),
		); err != nil {
			logger.WithComponent("dbus-signals").Debug().Err(err).Msg("Failed to remove signal match")
		}
	}
}

// Close stops watching. The connection is owned by the caller.
func (s *DBusSignalSource) Close() error {
	s.StopWatching()
	return nil
}
