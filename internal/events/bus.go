package events

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dbusService   = "org.freedesktop.DBus"
	dbusPath      = "/org/freedesktop/DBus"
	dbusInterface = "org.freedesktop.DBus"
)

// busConn is the subset of *dbus.Conn used by the D-Bus backed sources
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

var _ busConn = (*dbus.Conn)(nil)

// NameHasOwner reports whether a well-known name is currently owned on the bus
func NameHasOwner(conn *dbus.Conn, name string) (bool, error) {
	return nameHasOwner(conn, name)
}

func nameHasOwner(conn busConn, name string) (bool, error) {
	var owned bool
	err := conn.Object(dbusService, dbusPath).
		Call(dbusInterface+".NameHasOwner", 0, name).
		Store(&owned)
	if err != nil {
		return false, fmt.Errorf("failed to query owner of %s: %w", name, err)
	}
	return owned, nil
}
