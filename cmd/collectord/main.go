package main

import (
	"gridharvest/cmd/collectord/commands"
	"gridharvest/lib/procutil"
	"gridharvest/lib/telemetry"
)

func main() {
	ctx := procutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "collectord")
	telemetry.InitSlog(true)
	commands.ExecuteContext(ctx)
}
