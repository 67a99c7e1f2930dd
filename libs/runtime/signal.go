package runtime

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Closer is one named step of graceful shutdown.
type Closer struct {
	Name  string
	Close func(context.Context) error
}

// Shutdown runs closers in order under a single deadline. A failing step is
// logged and the remaining steps still run. It reports how many failed.
func Shutdown(logger *slog.Logger, timeout time.Duration, closers ...Closer) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	failed := 0
	for _, c := range closers {
		if c.Close == nil {
			continue
		}
		if err := c.Close(ctx); err != nil {
			failed++
			logger.Error("shutdown step failed", "step", c.Name, "err", err)
			continue
		}
		logger.Info("shutdown step done", "step", c.Name)
	}
	return failed
}
