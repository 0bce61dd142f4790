package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/kwinidle/internal/config"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "kwinidle",
		Short: "kwinidle - Forward KWin workspace activity to the idle-time service",
		Long: `kwinidle watches the KDE Plasma workspace and reports user interactions
to the KWinIdleTime D-Bus service.

Features:
  • Window activation, desktop and activity changes forwarded immediately
  • Cursor movement sampled (every Nth event) to limit bus traffic
  • KWin script relay or X11 + D-Bus signal backends
  • Listener hooks run on idle / active transitions
  • Optional local status API`,
		SilenceUsage: true,
	}
)

// overrides maps config keys to the persistent flags that can override them
var overrides = map[string]string{
	"log_level":         "log-level",
	"backend":           "backend",
	"sampling_interval": "sampling-interval",
	"status_port":       "status-port",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/kwinidle/config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("backend", "", "event backend (auto, kwin, x11)")
	flags.Int("sampling-interval", 0, "forward every Nth cursor event (default is 25)")
	flags.Int("status-port", 0, "status API port, 0 disables it")

	bindFlags(flags)
}

// bindFlags binds override flags to viper, which also picks up KWINIDLE_* env vars
func bindFlags(flags *pflag.FlagSet) {
	viper.SetEnvPrefix("KWINIDLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for key, flag := range overrides {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig loads the config file and applies flag and environment overrides.
// Overrides are not persisted.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("backend") && viper.GetString("backend") != "" {
		cfg.Backend = config.Backend(viper.GetString("backend"))
	}
	if viper.IsSet("sampling_interval") && viper.GetInt("sampling_interval") != 0 {
		cfg.SamplingInterval = viper.GetInt("sampling_interval")
	}
	if viper.IsSet("status_port") && viper.GetInt("status_port") != 0 {
		cfg.StatusPort = viper.GetInt("status_port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("config").Debug().
		Str("path", configMgr.GetConfigPath()).
		Str("backend", string(cfg.Backend)).
		Int("sampling_interval", cfg.SamplingInterval).
		Msg("Configuration loaded")

	return configMgr, cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
