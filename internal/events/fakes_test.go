package events

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// fakeObject records method calls and answers them from a reply table
type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()

	o.bus.calls = append(o.bus.calls, recordedCall{Dest: o.dest, Path: o.path, Method: method, Args: args})
	if err, ok := o.bus.errors[method]; ok {
		return &dbus.Call{Method: method, Err: err}
	}
	return &dbus.Call{Method: method, Body: o.bus.replies[method]}
}

type recordedCall struct {
	Dest   string
	Path   dbus.ObjectPath
	Method string
	Args   []interface{}
}

// fakeBus implements busConn without a running bus daemon
type fakeBus struct {
	mu          sync.Mutex
	calls       []recordedCall
	replies     map[string][]interface{}
	errors      map[string]error
	exported    map[dbus.ObjectPath]interface{}
	nameReply   dbus.RequestNameReply
	released    []string
	matches     []string
	removed     []string
	signalChans []chan<- *dbus.Signal
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		replies: map[string][]interface{}{
			dbusInterface + ".NameHasOwner":        {true},
			scriptingInterface + ".isScriptLoaded": {false},
			scriptingInterface + ".loadScript":     {int32(7)},
			scriptingInterface + ".unloadScript":   {true},
			scriptingInterface + ".start":          nil,
		},
		errors:    map[string]error{},
		exported:  map[dbus.ObjectPath]interface{}{},
		nameReply: dbus.RequestNameReplyPrimaryOwner,
	}
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, dest: dest, path: path}
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.exported, path)
		return nil
	}
	b.exported[path] = v
	return nil
}

func (b *fakeBus) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return b.nameReply, nil
}

func (b *fakeBus) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, name)
	return dbus.ReleaseNameReplyReleased, nil
}

func (b *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches = append(b.matches, matchKey(options))
	return nil
}

func (b *fakeBus) RemoveMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, matchKey(options))
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signalChans = append(b.signalChans, ch)
}

func (b *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.signalChans {
		if c == ch {
			b.signalChans = append(b.signalChans[:i], b.signalChans[i+1:]...)
			return
		}
	}
}

func (b *fakeBus) emit(sig *dbus.Signal) {
	b.mu.Lock()
	chans := append([]chan<- *dbus.Signal(nil), b.signalChans...)
	b.mu.Unlock()
	for _, c := range chans {
		c <- sig
	}
}

func (b *fakeBus) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Method)
	}
	return out
}

func (b *fakeBus) callsTo(method string) []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// matchKey renders match options for assertions
func matchKey(options []dbus.MatchOption) string {
	return fmt.Sprint(options)
}

// recorder collects events delivered to a Handler
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
