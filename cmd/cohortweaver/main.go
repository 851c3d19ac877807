package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cohortweaver/internal/cli"
)

// main cancels the run on SIGINT or SIGTERM; running tasks are cancelled
// cooperatively and the run is recorded as cancelled.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
