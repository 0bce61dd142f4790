package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/kwinidle/internal/hooks"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run listener hooks on idle and active transitions",
	Long: `Subscribe to the idle-time service's UserIdle and UserActive signals and run
every listener in the listeners directory on each transition.

Listeners are called as "<listener> idle" or "<listener> active <seconds>".
The directory and each listener must be owned by the current user and must
not be writable or accessible by group or others (e.g. mode 0500).`,
	Example: `  # Use the configured listeners directory
  kwinidle listen

  # Use another directory
  kwinidle listen --listeners ~/bin/idle-hooks`,
	RunE: runListen,
}

var listenersFlag string

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenersFlag, "listeners", "", "listeners directory (default is $HOME/.config/kwinidle/listeners)")
}

func runListen(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.ListenersPath
	if listenersFlag != "" {
		dir = listenersFlag
	}

	listeners, err := hooks.Load(dir)
	if err != nil {
		return err
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := hooks.NewRunner(listeners, cfg.ListenerTimeout)
	if err := hooks.NewWatcher(conn, runner).Run(ctx); err != nil {
		return err
	}

	logger.WithComponent("listen").Info().Msg("Shutting down gracefully...")
	return nil
}
