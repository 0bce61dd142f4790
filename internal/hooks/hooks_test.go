package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/notifier"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenerDir creates a listeners directory holding the given scripts, then
// locks it down to 0500. Cleanup restores write access so TempDir can be removed.
func listenerDir(t *testing.T, scripts map[string]string, mode os.FileMode) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "listeners")
	require.NoError(t, os.Mkdir(dir, 0o700))
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), mode))
		require.NoError(t, os.Chmod(filepath.Join(dir, name), mode))
	}
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o700) })
	return dir
}

// appendArgsScript writes its arguments and working directory to out
func appendArgsScript(out string) string {
	return "#!/bin/sh\necho \"$(basename \"$0\") $* $(pwd)\" >> " + out + "\n"
}

func TestLoadCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config", "listeners")
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrNoListeners)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o500), info.Mode().Perm())
}

func TestLoadRejectsPermissiveDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "listeners")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o755))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too permissive")
}

func TestLoadFiltersListeners(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "listeners")
	require.NoError(t, os.Mkdir(dir, 0o700))

	write := func(name string, mode os.FileMode) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
		require.NoError(t, os.Chmod(path, mode))
	}
	write("b-good", 0o500)
	write("a-good", 0o500)
	write("world-readable", 0o555)
	write("writable", 0o700)
	write("not-executable", 0o400)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o500))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a-good"), filepath.Join(dir, "link")))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	listeners, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a-good"), filepath.Join(dir, "b-good")}, listeners)
}

func TestRunnerPassesStateArguments(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	dir := listenerDir(t, map[string]string{
		"first":  appendArgsScript(out),
		"second": appendArgsScript(out),
	}, 0o500)

	listeners, err := Load(dir)
	require.NoError(t, err)
	r := NewRunner(listeners, 5*time.Second)

	require.NoError(t, r.OnIdle(context.Background()))
	require.NoError(t, r.OnActive(context.Background(), 1500*time.Millisecond))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"first idle " + dir,
		"second idle " + dir,
		"first active 1.50 " + dir,
		"second active 1.50 " + dir,
	}, lines)
}

func TestRunnerContinuesAfterFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	dir := listenerDir(t, map[string]string{
		"a-fails": "#!/bin/sh\nexit 3\n",
		"b-works": appendArgsScript(out),
	}, 0o500)

	listeners, err := Load(dir)
	require.NoError(t, err)

	err = NewRunner(listeners, 5*time.Second).OnIdle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a-fails")

	data, readErr := os.ReadFile(out)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "b-works idle")
}

func TestRunnerTimeout(t *testing.T) {
	dir := listenerDir(t, map[string]string{
		"slow": "#!/bin/sh\nexec sleep 5\n",
	}, 0o500)

	listeners, err := Load(dir)
	require.NoError(t, err)

	start := time.Now()
	err = NewRunner(listeners, 100*time.Millisecond).OnIdle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

// fakeSignalConn implements signalConn
type fakeSignalConn struct {
	mu      sync.Mutex
	matches [][]dbus.MatchOption
	removed int
	chans   []chan<- *dbus.Signal
}

func (c *fakeSignalConn) AddMatchSignal(options ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, options)
	return nil
}

func (c *fakeSignalConn) RemoveMatchSignal(options ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed++
	return nil
}

func (c *fakeSignalConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chans = append(c.chans, ch)
}

func (c *fakeSignalConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chans = nil
}

func (c *fakeSignalConn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chans) > 0
}

func (c *fakeSignalConn) emit(sig *dbus.Signal) {
	c.mu.Lock()
	chans := append([]chan<- *dbus.Signal(nil), c.chans...)
	c.mu.Unlock()
	for _, ch := range chans {
		ch <- sig
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	states []string
	idle   []time.Duration
}

func (h *recordingHandler) OnIdle(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, "idle")
	return nil
}

func (h *recordingHandler) OnActive(ctx context.Context, idleFor time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, "active")
	h.idle = append(h.idle, idleFor)
	return errors.New("listener failed")
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.states...)
}

func TestWatcherDispatchesSignals(t *testing.T) {
	conn := &fakeSignalConn{}
	handler := &recordingHandler{}
	w := &Watcher{conn: conn, handler: handler}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, conn.subscribed, time.Second, 5*time.Millisecond)
	assert.Len(t, conn.matches, 2)

	path := dbus.ObjectPath(notifier.ObjectPath)
	conn.emit(&dbus.Signal{Path: path, Name: notifier.Interface + ".UserIdle"})
	conn.emit(&dbus.Signal{Path: "/elsewhere", Name: notifier.Interface + ".UserIdle"})
	conn.emit(&dbus.Signal{Path: path, Name: notifier.Interface + ".UserActive", Body: []interface{}{"bad"}})
	conn.emit(&dbus.Signal{Path: path, Name: notifier.Interface + ".UserActive", Body: []interface{}{float64(125.5)}})
	conn.emit(nil)

	assert.Eventually(t, func() bool { return len(handler.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"idle", "active"}, handler.snapshot())
	handler.mu.Lock()
	assert.Equal(t, []time.Duration{125500 * time.Millisecond}, handler.idle)
	handler.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, conn.removed)
	assert.False(t, conn.subscribed())
}
