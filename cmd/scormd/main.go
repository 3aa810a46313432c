package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/logging"
)

func main() {
	logging.CreateLogger()
	logger := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(afero.NewOsFs(), ctx, logger).Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
