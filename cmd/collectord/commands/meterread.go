package commands

import (
	"log/slog"
	"os"
	"strconv"

	"gridharvest/lib/procutil"
	"gridharvest/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(meterReadCmd)
}

var meterReadCmd = &cobra.Command{
	Use:   "meter-read",
	Short: "Fetches the meter's on-demand register read history.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		rt := mustBuild(cfg)
		defer rt.close()

		ctx := cmd.Context()
		sess, err := rt.auth.EnsureAuthenticated(ctx, false)
		if err != nil {
			procutil.Fatal("failed to authenticate", err)
		}
		err = rt.client.SetSession(sess)
		if err != nil {
			procutil.Fatal("failed to adopt session", err)
		}

		read, err := rt.client.FetchOnDemandRead(ctx, cfg.Portal.CustomerId, timezone.Now())
		if err != nil {
			procutil.Fatal("failed to fetch on-demand read", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Reading (kWh)", "Requested At"})
		for _, reg := range read.Registers {
			reading := "failed"
			if reg.Reading != nil {
				reading = strconv.FormatFloat(*reg.Reading, 'f', -1, 64)
			}
			t.AppendRow(table.Row{reading, reg.LastRequestTimestamp})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()

		if rt.mqtt == nil {
			return
		}
		reg, ok := read.LatestReading()
		if !ok {
			slog.WarnContext(ctx, "no successful register read to publish")
			return
		}
		readAt, err := reg.ReadAt()
		if err != nil {
			procutil.Fatal("failed to parse register read timestamp", err)
		}
		err = rt.mqtt.PublishMeterRead(ctx, *reg.Reading, readAt)
		if err != nil {
			procutil.Fatal("failed to publish meter read", err)
		}
		slog.InfoContext(ctx, "published meter read",
			"reading_kwh", *reg.Reading,
			"read_at", readAt)
	},
}
