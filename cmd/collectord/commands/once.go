package commands

import (
	"os"
	"strings"

	"gridharvest/services/collector"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(onceCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Runs a single collection cycle and prints the result.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		rt := mustBuild(cfg)
		defer rt.close()

		result := rt.svc.RunOnce(cmd.Context())
		printResult(result)

		if result.Status != collector.StatusSuccess {
			os.Exit(1)
		}
	},
}

func printResult(result collector.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"status", result.Status})
	t.AppendRow(table.Row{"attempted at", result.AttemptedAt.Format("2006-01-02 15:04:05")})
	t.AppendRow(table.Row{"intervals written", result.IntervalsWritten})
	if result.ErrorDetail != "" {
		t.AppendRow(table.Row{"error", result.ErrorDetail})
	}
	for name, detail := range result.SinkErrors {
		t.AppendRow(table.Row{"sink error (" + name + ")", strings.TrimSpace(detail)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
