package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/api"
	"github.com/bryanchriswhite/kwinidle/internal/config"
	"github.com/bryanchriswhite/kwinidle/internal/events"
	"github.com/bryanchriswhite/kwinidle/internal/forwarder"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/bryanchriswhite/kwinidle/internal/notifier"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forward workspace activity to the idle-time service",
	Long: `Watch the workspace for cursor movement, window activation, virtual desktop
and activity changes, and report them to the KWinIdleTime service.

Window, desktop and activity changes are reported immediately. Cursor movement
is sampled: one report per sampling_interval cursor events.`,
	Example: `  # Run with the configured backend
  kwinidle run

  # Force the X11 backend and report every 10th cursor event
  kwinidle run --backend x11 --sampling-interval 10

  # Log interactions instead of calling the service
  kwinidle run --dry-run --log-level debug

  # Expose the status API on localhost:7531
  kwinidle run --status-port 7531`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log interactions instead of calling the idle-time service")
}

func runRun(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("run")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	var n notifier.Notifier = notifier.NewDBusNotifier(conn)
	if dryRun {
		n = notifier.LogNotifier{}
	} else if ok, err := events.NameHasOwner(conn, notifier.ServiceName); err == nil && !ok {
		log.Warn().Str("service", notifier.ServiceName).Msg("Idle-time service is not running, interactions will be dropped until it starts")
	}

	fwd, err := forwarder.New(n, cfg.SamplingInterval)
	if err != nil {
		return fmt.Errorf("failed to create forwarder: %w", err)
	}

	source, err := openSource(conn, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusPort > 0 {
		server := api.NewServer(fwd, cfg, source.Name())
		go func() {
			if err := server.Start(cfg.StatusPort); err != nil {
				log.Error().Err(err).Msg("Status API error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if err := source.Watch(fwd.Submit); err != nil {
		return fmt.Errorf("failed to watch %s: %w", source.Name(), err)
	}
	defer source.StopWatching()

	log.Info().
		Str("source", source.Name()).
		Int("sampling_interval", cfg.SamplingInterval).
		Bool("dry_run", dryRun).
		Msg("kwinidle is running")

	if err := fwd.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("Shutting down gracefully...")
	return nil
}

// openSource picks the event source for the configured backend
func openSource(conn *dbus.Conn, cfg *config.Config) (events.Source, error) {
	log := logger.WithComponent("run")

	backend := cfg.Backend
	if backend == config.BackendAuto {
		backend = config.BackendX11
		if ok, err := events.NameHasOwner(conn, events.KWinService); err == nil && ok {
			backend = config.BackendKWin
		}
		log.Debug().Str("backend", string(backend)).Msg("Selected backend")
	}

	switch backend {
	case config.BackendKWin:
		src, err := events.NewKWinScriptSource(conn, cfg.SamplingInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to set up KWin script relay: %w", err)
		}
		return src, nil
	case config.BackendX11:
		x11, err := events.NewX11Source(cfg.CursorPollInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to X11: %w", err)
		}
		// Desktop changes come from the root window property; D-Bus only adds activities
		return events.NewMultiSource(x11, events.NewDBusSignalSource(conn, events.KindActivityChanged)), nil
	default:
		return nil, errors.New("unknown backend: " + string(backend))
	}
}
