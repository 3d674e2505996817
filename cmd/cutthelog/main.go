package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SteelMorgan/cutthelog/internal/cli"
)

func main() {
	// Stop reading on interrupt; the position is only saved after a complete pass
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx)
	stop()
	os.Exit(code)
}
