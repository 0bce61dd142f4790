package events

import "errors"

// ErrAlreadyWatching is returned by Watch when a source is already delivering events
var ErrAlreadyWatching = errors.New("already watching")

// Source defines the interface for host environment event sources (KWin script, X11, D-Bus signals)
type Source interface {
	// Watch registers handler for every event kind the source supports.
	// Registration happens once; events are delivered from the source's own goroutines.
	Watch(handler Handler) error

	// StopWatching stops delivering events. Safe to call more than once.
	StopWatching()

	// Close releases the source's connections
	Close() error

	// Name returns the source name (e.g., "kwin-script", "x11")
	Name() string
}
