package hooks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
)

// Runner executes listeners when the idle service reports a state change
type Runner struct {
	dir       string
	listeners []string
	timeout   time.Duration
}

// NewRunner runs listeners from their own directory with a per-listener timeout
func NewRunner(listeners []string, timeout time.Duration) *Runner {
	dir := ""
	if len(listeners) > 0 {
		dir = filepath.Dir(listeners[0])
	}
	return &Runner{dir: dir, listeners: listeners, timeout: timeout}
}

// OnIdle runs `<listener> idle` for every listener
func (r *Runner) OnIdle(ctx context.Context) error {
	return r.runAll(ctx, "idle")
}

// OnActive runs `<listener> active <seconds>` for every listener, seconds with two decimals
func (r *Runner) OnActive(ctx context.Context, idleFor time.Duration) error {
	return r.runAll(ctx, "active", strconv.FormatFloat(idleFor.Seconds(), 'f', 2, 64))
}

// runAll runs listeners in order. A failing listener does not stop the rest.
func (r *Runner) runAll(ctx context.Context, args ...string) error {
	log := logger.WithComponent("hooks")

	var errs error
	for _, listener := range r.listeners {
		if err := r.run(ctx, listener, args); err != nil {
			log.Error().Err(err).Str("listener", listener).Msg("Error executing listener")
			errs = errors.Join(errs, err)
			continue
		}
		log.Info().Str("listener", listener).Str("state", args[0]).Msg("Executed listener")
	}
	return errs
}

func (r *Runner) run(ctx context.Context, listener string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// stdio left nil is connected to /dev/null
	cmd := exec.CommandContext(ctx, listener, args...)
	cmd.Dir = r.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s", listener, r.timeout)
		}
		return fmt.Errorf("%s: %w", listener, err)
	}
	return nil
}
