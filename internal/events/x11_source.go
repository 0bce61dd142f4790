package events

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
)

// X11Source reads workspace events from EWMH root window properties and
// samples the pointer position. Works under X11 and XWayland sessions.
type X11Source struct {
	conn         *xgb.Conn
	root         xproto.Window
	mu           sync.Mutex
	watching     bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
	pollInterval time.Duration
	// Atoms for property change detection
	activeWindowAtom   xproto.Atom
	currentDesktopAtom xproto.Atom
}

// NewX11Source connects to the X server named by $DISPLAY
func NewX11Source(pollInterval time.Duration) (*X11Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	s := &X11Source{
		conn:         conn,
		root:         xproto.Setup(conn).DefaultScreen(conn).Root,
		pollInterval: pollInterval,
	}

	if s.activeWindowAtom, err = s.getAtom("_NET_ACTIVE_WINDOW"); err != nil {
		conn.Close()
		return nil, err
	}
	if s.currentDesktopAtom, err = s.getAtom("_NET_CURRENT_DESKTOP"); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Name returns the source name
func (s *X11Source) Name() string {
	return "x11"
}

func (s *X11Source) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(s.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}

// Watch subscribes to root window property changes and starts pointer sampling
func (s *X11Source) Watch(handler Handler) error {
	log := logger.WithComponent("x11")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return ErrAlreadyWatching
	}

	if err := xproto.ChangeWindowAttributesChecked(
		s.conn,
		s.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		return fmt.Errorf("failed to set event mask: %w", err)
	}

	s.watching = true
	s.stopChan = make(chan struct{})

	s.wg.Add(2)
	go s.watchPropertyEvents(handler, s.stopChan)
	go s.watchPointer(handler, s.stopChan)

	log.Debug().Dur("poll_interval", s.pollInterval).Msg("Watching root window and pointer")
	return nil
}

// watchPropertyEvents listens for PropertyNotify events on the root window
func (s *X11Source) watchPropertyEvents(handler Handler, stop chan struct{}) {
	defer s.wg.Done()
	log := logger.WithComponent("x11")

	for {
		select {
		case <-stop:
			return
		default:
		}

		// Poll so stop is honoured without a pending X event
		ev, err := s.conn.PollForEvent()
		if err != nil {
			log.Debug().Err(err).Msg("X11 event error")
			continue
		}
		if ev == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		notify, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok || notify.Window != s.root {
			continue
		}
		if kind, ok := s.kindForAtom(notify.Atom); ok {
			handler(Event{Kind: kind, Time: time.Now(), Source: "x11"})
		}
	}
}

// kindForAtom maps a changed root property onto an event kind
func (s *X11Source) kindForAtom(atom xproto.Atom) (Kind, bool) {
	switch {
	case atom == 0:
		return "", false
	case atom == s.activeWindowAtom:
		return KindWindowActivated, true
	case atom == s.currentDesktopAtom:
		return KindDesktopChanged, true
	}
	return "", false
}

// watchPointer samples the pointer position and emits a cursor event on every change
func (s *X11Source) watchPointer(handler Handler, stop chan struct{}) {
	defer s.wg.Done()
	log := logger.WithComponent("x11")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var tracker pointerTracker
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			reply, err := xproto.QueryPointer(s.conn, s.root).Reply()
			if err != nil {
				log.Debug().Err(err).Msg("Failed to query pointer")
				continue
			}
			if tracker.moved(reply.RootX, reply.RootY) {
				handler(Event{
					Kind:   KindCursor,
					Time:   time.Now(),
					Source: "x11",
					Detail: strconv.Itoa(int(reply.RootX)) + "," + strconv.Itoa(int(reply.RootY)),
				})
			}
		}
	}
}

// pointerTracker remembers the last sampled pointer position
type pointerTracker struct {
	seen bool
	x, y int16
}

// moved records the position and reports whether it differs from the previous
// sample. The first sample only establishes a baseline.
func (p *pointerTracker) moved(x, y int16) bool {
	if !p.seen {
		p.seen = true
		p.x, p.y = x, y
		return false
	}
	if x == p.x && y == p.y {
		return false
	}
	p.x, p.y = x, y
	return true
}

// StopWatching stops both watcher goroutines
func (s *X11Source) StopWatching() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watching {
		close(s.stopChan)
		s.wg.Wait()
		s.watching = false
	}
}

// Close closes the X11 connection
func (s *X11Source) Close() error {
	s.StopWatching()
	s.conn.Close()
	return nil
}
