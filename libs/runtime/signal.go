package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext is the root context for every service binary; it cancels
// on SIGINT or SIGTERM and shutdown drains from there.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
