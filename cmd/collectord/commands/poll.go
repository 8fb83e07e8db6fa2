package commands

import (
	"log/slog"
	"time"

	"gridharvest/lib/telemetry"

	"github.com/spf13/cobra"
)

const defaultPollInterval = time.Minute * 60

func init() {
	rootCmd.AddCommand(pollCmd)
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Collects on an interval until terminated.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		rt := mustBuild(cfg)
		defer rt.close()

		telemetry.InstrumentPerfStats(cmd.Context())

		interval := defaultPollInterval
		if cfg.Poll.IntervalMinutes > 0 {
			interval = time.Duration(cfg.Poll.IntervalMinutes) * time.Minute
		}

		slog.Info("polling", "interval", interval)
		rt.svc.RunForever(cmd.Context(), interval)
		slog.Info("shutting down")
	},
}
