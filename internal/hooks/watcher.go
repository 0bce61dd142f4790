package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/bryanchriswhite/kwinidle/internal/notifier"
	"github.com/godbus/dbus/v5"
)

// Idle-tracking service signals
const (
	SignalUserIdle   = "UserIdle"
	SignalUserActive = "UserActive"
)

// StateHandler reacts to idle service state changes
type StateHandler interface {
	OnIdle(ctx context.Context) error
	OnActive(ctx context.Context, idleFor time.Duration) error
}

// signalConn is the subset of *dbus.Conn the watcher needs
type signalConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Watcher subscribes to the idle service's UserIdle and UserActive signals
type Watcher struct {
	conn    signalConn
	handler StateHandler
}

// NewWatcher creates a watcher on a caller-owned session bus connection
func NewWatcher(conn *dbus.Conn, handler StateHandler) *Watcher {
	return &Watcher{conn: conn, handler: handler}
}

func matchOptions(member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(notifier.ObjectPath),
		dbus.WithMatchInterface(notifier.Interface),
		dbus.WithMatchMember(member),
	}
}

// Run dispatches signals to the handler until ctx is cancelled.
// Handlers run on this goroutine, so listeners never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.WithComponent("hooks")

	for _, member := range []string{SignalUserIdle, SignalUserActive} {
		if err := w.conn.AddMatchSignal(matchOptions(member)...); err != nil {
			return fmt.Errorf("failed to subscribe to %s.%s: %w", notifier.Interface, member, err)
		}
		defer w.conn.RemoveMatchSignal(matchOptions(member)...)
	}

	signals := make(chan *dbus.Signal, 10)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	log.Info().Str("service", notifier.ServiceName).Msg("Waiting for idle state changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			if sig == nil || sig.Path != notifier.ObjectPath {
				continue
			}
			w.dispatch(ctx, sig)
		}
	}
}

// dispatch runs the handler for one signal. Handler errors are already logged per listener.
func (w *Watcher) dispatch(ctx context.Context, sig *dbus.Signal) {
	log := logger.WithComponent("hooks")

	switch sig.Name {
	case notifier.Interface + "." + SignalUserIdle:
		log.Info().Msg("User has become idle")
		_ = w.handler.OnIdle(ctx)
	case notifier.Interface + "." + SignalUserActive:
		seconds, ok := activeSeconds(sig)
		if !ok {
			log.Warn().Interface("body", sig.Body).Msg("Malformed UserActive signal")
			return
		}
		idleFor := time.Duration(seconds * float64(time.Second))
		log.Info().Dur("idle_for", idleFor).Msg("User has become active")
		_ = w.handler.OnActive(ctx, idleFor)
	}
}

// activeSeconds extracts the idle time carried by UserActive
func activeSeconds(sig *dbus.Signal) (float64, bool) {
	if len(sig.Body) != 1 {
		return 0, false
	}
	seconds, ok := sig.Body[0].(float64)
	return seconds, ok
}
