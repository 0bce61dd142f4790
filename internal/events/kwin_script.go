package events

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/godbus/dbus/v5"
)

// KWin scripting D-Bus names
const (
	KWinService        = "org.kde.KWin"
	scriptingPath      = "/Scripting"
	scriptingInterface = "org.kde.kwin.Scripting"
)

// Relay object the loaded script reports workspace events to
const (
	RelayName      = "io.github.kale_ko.KWinIdleTime.Forwarder"
	RelayPath      = "/io/github/kale_ko/KWinIdleTime/Forwarder"
	RelayInterface = "io.github.kale_ko.KWinIdleTime.Forwarder"
)

// ScriptPluginName is the name the relay script is registered under in KWin
const ScriptPluginName = "kwinidle-relay"

var relayScript = template.Must(template.New("relay").Parse(`// Generated by kwinidle. Relays workspace events to the forwarder daemon.
function relay(kind) {
    callDBus("{{.Name}}", "{{.Path}}", "{{.Interface}}", "Event", kind);
}

// Cursor moves are reported in batches of {{.CursorBatch}}
var cursorMoves = 0;
workspace.cursorPosChanged.connect(function () {
    cursorMoves++;
    if (cursorMoves >= {{.CursorBatch}}) {
        callDBus("{{.Name}}", "{{.Path}}", "{{.Interface}}", "Cursor", String(cursorMoves));
        cursorMoves = 0;
    }
});

(workspace.windowActivated || workspace.clientActivated).connect(function (window) {
    relay("{{.WindowActivated}}");
});

workspace.currentDesktopChanged.connect(function (desktop) {
    relay("{{.DesktopChanged}}");
});

if (workspace.currentActivityChanged) {
    workspace.currentActivityChanged.connect(function (activity) {
        relay("{{.ActivityChanged}}");
    });
}
`))

// RenderScript returns the KWin script that relays workspace events to RelayPath.
// Cursor moves are batched in the script and sent every cursorBatch moves.
func RenderScript(cursorBatch int) ([]byte, error) {
	if cursorBatch < 1 {
		return nil, fmt.Errorf("cursor batch must be at least 1, got %d", cursorBatch)
	}

	var buf bytes.Buffer
	err := relayScript.Execute(&buf, map[string]interface{}{
		"Name":            RelayName,
		"Path":            RelayPath,
		"Interface":       RelayInterface,
		"CursorBatch":     cursorBatch,
		"WindowActivated": string(KindWindowActivated),
		"DesktopChanged":  string(KindDesktopChanged),
		"ActivityChanged": string(KindActivityChanged),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render relay script: %w", err)
	}
	return buf.Bytes(), nil
}

// relay is exported on the session bus and receives calls from the KWin script
type relay struct {
	mu      sync.RWMutex
	handler Handler
}

// Event is called by the KWin script for every workspace signal
func (r *relay) Event(kind string) *dbus.Error {
	k, err := ParseKind(kind)
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()

	if h != nil {
		h(Event{Kind: k, Time: time.Now(), Source: "kwin-script"})
	}
	return nil
}

// Cursor is called by the KWin script with the number of cursor moves since the
// last call. The count is a string since JS numbers have no fixed D-Bus type.
func (r *relay) Cursor(count string) *dbus.Error {
	n, err := strconv.Atoi(count)
	if err != nil || n < 1 {
		return dbus.MakeFailedError(fmt.Errorf("invalid cursor count %q", count))
	}

	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()

	if h == nil {
		return nil
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		h(Event{Kind: KindCursor, Time: now, Source: "kwin-script"})
	}
	return nil
}

func (r *relay) setHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// KWinScriptSource loads a KWin script that relays workspace signals back over D-Bus.
// The connection is owned by the caller.
type KWinScriptSource struct {
	conn        busConn
	relay       *relay
	cursorBatch int
	mu          sync.Mutex
	watching    bool
	scriptPath  string
}

// NewKWinScriptSource checks that KWin is on the bus and exports the relay object.
// The loaded script reports cursor moves in batches of cursorBatch.
func NewKWinScriptSource(conn *dbus.Conn, cursorBatch int) (*KWinScriptSource, error) {
	return newKWinScriptSource(conn, cursorBatch)
}

func newKWinScriptSource(conn busConn, cursorBatch int) (*KWinScriptSource, error) {
	if cursorBatch < 1 {
		return nil, fmt.Errorf("cursor batch must be at least 1, got %d", cursorBatch)
	}

	found, err := nameHasOwner(conn, KWinService)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	s := &KWinScriptSource{
		conn:        conn,
		relay:       &relay{},
		cursorBatch: cursorBatch,
	}

	if err := conn.Export(s.relay, RelayPath, RelayInterface); err != nil {
		return nil, fmt.Errorf("failed to export relay object: %w", err)
	}

	reply, err := conn.RequestName(RelayName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", RelayName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		return nil, fmt.Errorf("bus name %s is already taken, is another forwarder running?", RelayName)
	}

	logger.WithComponent("kwin-script").Info().Msg("Connected to KWin D-Bus service")
	return s, nil
}

// Name returns the source name
func (s *KWinScriptSource) Name() string {
	return "kwin-script"
}

// Watch writes and loads the relay script, then starts KWin's scripting engine
func (s *KWinScriptSource) Watch(handler Handler) error {
	log := logger.WithComponent("kwin-script")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return ErrAlreadyWatching
	}

	script, err := RenderScript(s.cursorBatch)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "kwinidle-relay-*.js")
	if err != nil {
		return fmt.Errorf("failed to create relay script: %w", err)
	}
	if _, err := f.Write(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write relay script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("failed to write relay script: %w", err)
	}

	scripting := s.conn.Object(KWinService, scriptingPath)

	// A previous run that did not shut down cleanly leaves its script loaded
	var loaded bool
	if err := scripting.Call(scriptingInterface+".isScriptLoaded", 0, ScriptPluginName).Store(&loaded); err == nil && loaded {
		log.Debug().Msg("Unloading stale relay script")
		s.unload()
	}

	s.relay.setHandler(handler)

	var id int32
	if err := scripting.Call(scriptingInterface+".loadScript", 0, f.Name(), ScriptPluginName).Store(&id); err != nil {
		s.relay.setHandler(nil)
		os.Remove(f.Name())
		return fmt.Errorf("failed to load KWin script: %w", err)
	}
	if id < 0 {
		s.relay.setHandler(nil)
		os.Remove(f.Name())
		return fmt.Errorf("KWin refused to load script %s", f.Name())
	}

	if err := scripting.Call(scriptingInterface+".start", 0).Err; err != nil {
		s.relay.setHandler(nil)
		s.unload()
		os.Remove(f.Name())
		return fmt.Errorf("failed to start KWin scripting: %w", err)
	}

	s.scriptPath = f.Name()
	s.watching = true
	log.Info().Int32("script_id", id).Str("path", f.Name()).Msg("Relay script loaded")
	return nil
}

// unload removes the relay script from KWin
func (s *KWinScriptSource) unload() bool {
	var unloaded bool
	err := s.conn.Object(KWinService, scriptingPath).
		Call(scriptingInterface+".unloadScript", 0, ScriptPluginName).
		Store(&unloaded)
	if err != nil {
		logger.WithComponent("kwin-script").Warn().Err(err).Msg("Failed to unload relay script")
		return false
	}
	return unloaded
}

// StopWatching unloads the relay script
func (s *KWinScriptSource) StopWatching() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.watching {
		return
	}
	s.watching = false
	s.relay.setHandler(nil)
	s.unload()
	if s.scriptPath != "" {
		os.Remove(s.scriptPath)
		s.scriptPath = ""
	}
}

// Close stops watching and releases the relay bus name
func (s *KWinScriptSource) Close() error {
	s.StopWatching()

	var errs error
	if _, err := s.conn.ReleaseName(RelayName); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to release %s: %w", RelayName, err))
	}
	if err := s.conn.Export(nil, RelayPath, RelayInterface); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to unexport relay object: %w", err))
	}
	return errs
}
