// Package lilac provides the small set of root-level helpers every lilac
// command shares: an interruptible top-level context and a process-exit
// cleanup registry.
package lilac

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the
// program receives SIGINT or SIGTERM — the cancellation the driver loop's
// "global interruption" build-loop exit condition observes. Per spec,
// a global interruption is logged and lets the build loop exit cleanly
// rather than terminating the process outright, so the outcome
// recorder's finally-path still runs.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("received %v, canceling the current cycle", s)
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
