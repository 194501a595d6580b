package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled on SIGINT or SIGTERM. The returned
// stop function releases the signal handler and cancels the context.
func CreateContextWithShutdown() (context.Context, context.CancelFunc) {
	return withShutdown(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func withShutdown(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	go func() {
		select {
		case sig := <-c:
			log.Warnf("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
