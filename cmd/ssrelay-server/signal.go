//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtaci/ssrelay/internal/metrics"
)

// installSignalHandlers ignores SIGPIPE process-wide, so a write to a
// connection the peer already closed returns an error instead of killing
// the process, and starts a goroutine that dumps the current lifecycle
// counters on SIGUSR1, adapted from the teacher's client/signal.go (which
// dumped kcp.DefaultSnmp the same way). shutdown is called once on
// SIGINT/SIGTERM.
func installSignalHandlers(counters *metrics.Counters, shutdown func()) {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR1:
				log.Printf("counters: %+v", counters.Snap())
			case syscall.SIGINT, syscall.SIGTERM:
				shutdown()
				return
			}
		}
	}()
}
