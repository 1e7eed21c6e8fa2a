// Package metrics tracks the process-wide lifecycle counters for
// observability (open_clients/open_upstreams), plus an
// optional periodic CSV snapshot
// adapted from the teacher's std.SnmpLogger (which dumped kcp.DefaultSnmp on
// a timer; this dumps the relay's own counters instead).
package metrics

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters are incremented/decremented from many pair goroutines
// concurrently, so every field is accessed only via atomic ops.
type Counters struct {
	clientsOpened   int64
	clientsClosed   int64
	upstreamsOpened int64
	upstreamsClosed int64
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	OpenClients   int64
	OpenUpstreams int64
}

func (c *Counters) ClientOpened()   { atomic.AddInt64(&c.clientsOpened, 1) }
func (c *Counters) ClientClosed()   { atomic.AddInt64(&c.clientsClosed, 1) }
func (c *Counters) UpstreamOpened() { atomic.AddInt64(&c.upstreamsOpened, 1) }
func (c *Counters) UpstreamClosed() { atomic.AddInt64(&c.upstreamsClosed, 1) }

// Snap computes the current open_clients/open_upstreams counts.
func (c *Counters) Snap() Snapshot {
	return Snapshot{
		OpenClients:   atomic.LoadInt64(&c.clientsOpened) - atomic.LoadInt64(&c.clientsClosed),
		OpenUpstreams: atomic.LoadInt64(&c.upstreamsOpened) - atomic.LoadInt64(&c.upstreamsClosed),
	}
}

// Logger periodically appends a CSV snapshot to path, formatting path with
// time.Now() the same way the teacher's SnmpLogger does (so an operator can
// pass something like "./snmp-20060102.log" and get one file per day).
// Returns immediately if path is empty or interval is 0, the feature is
// opt-in.
func Logger(c *Counters, path string, interval time.Duration) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}

		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write([]string{"unix", "open_clients", "open_upstreams"}); err != nil {
				log.Println(err)
			}
		}

		snap := c.Snap()
		row := []string{
			fmt.Sprint(time.Now().Unix()),
			fmt.Sprint(snap.OpenClients),
			fmt.Sprint(snap.OpenUpstreams),
		}
		if err := w.Write(row); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}
