package commands

import (
	"os"

	"github.com/bryanchriswhite/kwinidle/internal/events"
	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Print the KWin relay script",
	Long: `Print the KWin script that "kwinidle run" loads with the kwin backend.

The script forwards workspace events to the running daemon over D-Bus. It is
loaded automatically; printing it is useful for inspection or for packaging
it as a standalone KWin script. Cursor moves are batched in the script using
the configured sampling_interval.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		script, err := events.RenderScript(cfg.SamplingInterval)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(script)
		return err
	},
}

func init() {
	rootCmd.AddCommand(scriptCmd)
}
