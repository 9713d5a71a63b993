// main is the entry point for the defectrisk CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/huangsam/defectrisk/cmd"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cmd.Execute(ctx)
	stop()
	if perr := cmd.StopProfiling(); perr != nil {
		contract.LogWarn("Failed to stop profiling", perr)
	}
	iocache.CloseStores()
	if err != nil {
		contract.LogFatal("Error starting CLI", err)
	}
}
