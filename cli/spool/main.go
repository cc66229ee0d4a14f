package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	spoolcmder "github.com/papercomputeco/spool/cmd/spool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := spoolcmder.NewSpoolCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
