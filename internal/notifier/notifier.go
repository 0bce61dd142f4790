package notifier

import (
	"fmt"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Idle-tracking service D-Bus constants
const (
	ServiceName           = "io.github.kale_ko.KWinIdleTime"
	ObjectPath            = "/io/github/kale_ko/KWinIdleTime"
	Interface             = "io.github.kale_ko.KWinIdleTime"
	MethodMarkInteraction = "MarkInteraction"
)

// Notifier tells the idle-tracking service that user interaction occurred.
// MarkInteraction never blocks; callers are free to ignore the returned error.
type Notifier interface {
	MarkInteraction() error
}

// DBusNotifier sends MarkInteraction as a one-way method call
type DBusNotifier struct {
	obj dbus.BusObject
}

// NewDBusNotifier targets the idle-tracking service on conn
func NewDBusNotifier(conn *dbus.Conn) *DBusNotifier {
	return newDBusNotifier(conn.Object(ServiceName, ObjectPath))
}

func newDBusNotifier(obj dbus.BusObject) *DBusNotifier {
	return &DBusNotifier{obj: obj}
}

// MarkInteraction queues the call with NO_REPLY_EXPECTED and returns at once.
// The error only reports a message that could not be queued; delivery is never confirmed.
func (n *DBusNotifier) MarkInteraction() error {
	call := n.obj.Go(Interface+"."+MethodMarkInteraction, dbus.FlagNoReplyExpected, nil)
	if call != nil && call.Err != nil {
		logger.WithComponent("notifier").Debug().Err(call.Err).Msg("MarkInteraction not sent")
		return fmt.Errorf("failed to send %s: %w", MethodMarkInteraction, call.Err)
	}
	return nil
}

// LogNotifier logs interactions instead of sending them
type LogNotifier struct{}

// MarkInteraction logs the interaction at info level
func (LogNotifier) MarkInteraction() error {
	logger.WithComponent("notifier").Info().
		Str("service", ServiceName).
		Str("method", MethodMarkInteraction).
		Msg("Dry run: interaction not sent")
	return nil
}
