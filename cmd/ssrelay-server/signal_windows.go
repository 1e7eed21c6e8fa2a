//go:build windows

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtaci/ssrelay/internal/metrics"
)

func installSignalHandlers(counters *metrics.Counters, shutdown func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Printf("counters: %+v", counters.Snap())
		shutdown()
	}()
}
