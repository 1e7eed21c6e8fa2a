package relay

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/ssrelay/internal/cipher"
	"github.com/xtaci/ssrelay/internal/metrics"
)

// TestListenerAcceptsAndServesConnections exercises §4.5 end to end over a
// real loopback socket: Listen binds, Serve accepts, and each accepted
// connection gets its own Pair relaying to a real upstream.
func TestListenerAcceptsAndServesConnections(t *testing.T) {
	upstream := startEchoUpstream(t)
	defer upstream.Close()

	factory, _, err := cipher.NewFactory("listener test secret", "none")
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	counters := &metrics.Counters{}

	ln, err := Listen("127.0.0.1:0", time.Second, factory, counters)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve() }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hdr := ipv4Handshake(upstream.Addr().(*net.TCPAddr))
	payload := append(append([]byte(nil), hdr...), []byte("hello upstream")...)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write handshake+payload: %v", err)
	}

	resp := make([]byte, len("hello upstream"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, resp); err != nil {
		t.Fatalf("reading echoed response: %v", err)
	}
	if string(resp) != "hello upstream" {
		t.Fatalf("echoed = %q, want %q", resp, "hello upstream")
	}

	if err := ln.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("Serve returned %v after Close, want nil", err)
	}

	conn.Close()
	ln.DrainTimeout(time.Second)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestListenerDrainTimeoutForcesStragglers confirms a shutdown does not
// hang forever waiting on a pair stuck in STREAMING past the grace period.
func TestListenerDrainTimeoutForcesStragglers(t *testing.T) {
	upstream := startEchoUpstream(t)
	defer upstream.Close()

	factory, _, err := cipher.NewFactory("drain test secret", "none")
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	counters := &metrics.Counters{}

	ln, err := Listen("127.0.0.1:0", time.Second, factory, counters)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hdr := ipv4Handshake(upstream.Addr().(*net.TCPAddr))
	if _, err := conn.Write(hdr); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	// Never close conn: the pair stays in STREAMING indefinitely, standing
	// in for a client that never hangs up.

	ln.Close()

	start := time.Now()
	ln.DrainTimeout(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("DrainTimeout took %v, want it to force-close well under 2s", elapsed)
	}
}
