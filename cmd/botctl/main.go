// Command botctl drives the backend admin API: create bots, inspect them and
// finish the ones that got stuck.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(DefaultDeps()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
