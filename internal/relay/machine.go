package relay

import (
	"io"
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/ssrelay/internal/cipher"
)

// Run drives a pair through HANDSHAKING → CONNECTING → STREAMING → CLOSED
// (§4.4) and always tears the pair down before returning. It is meant to be
// called in its own goroutine by the listener's accept loop — the
// reactor-as-dispatcher translation described in SPEC_FULL.md §2.
func (p *Pair) Run() {
	defer p.teardown()

	dest, err := ReadHandshake(p.client.conn, p.client.dCtx)
	if err != nil {
		if !isPeerClose(err) {
			log.Printf("handshake: %+v", err)
		}
		return
	}

	p.stage = StageConnecting
	upConn, err := net.DialTimeout("tcp", dest, p.timeout)
	if err != nil {
		log.Printf("connect %s: %+v", dest, errors.Wrap(err, "dial"))
		return
	}
	p.upstream.conn = upConn
	p.upstream.connected = true
	p.metrics.UpstreamOpened()

	p.stage = StageStreaming

	// Closing either side the moment one direction finishes unblocks the
	// other pump's Read() — otherwise a peer close on one side leaves the
	// other pump parked forever, matching the teacher's std/copy.go
	// `closed.Do(func(){ alice.Close(); bob.Close() })`.
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			p.client.conn.Close()
			p.upstream.conn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var errClientToUpstream, errUpstreamToClient error
	go func() {
		defer wg.Done()
		errClientToUpstream = pump(p.client.conn, p.upstream.conn, p.client.dCtx, &p.upstream.buf, cipher.DecryptInPlace)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		errUpstreamToClient = pump(p.upstream.conn, p.client.conn, p.client.eCtx, &p.client.buf, cipher.EncryptInPlace)
		closeBoth()
	}()
	wg.Wait()

	for _, err := range []error{errClientToUpstream, errUpstreamToClient} {
		if err != nil && !isPeerClose(err) {
			log.Printf("relay %s: %+v", dest, err)
		}
	}
}

// pump copies src -> dst, transforming each chunk in place through ctx as it
// arrives, stopping on the first read or write error (including peer EOF,
// §7 taxonomy item 2). It never reads more than one buffer's worth ahead of
// what it has successfully written, which is exactly the backpressure law
// in §8: a stalled dst blocks the next src.Read because writeAll blocks
// first.
func pump(src, dst net.Conn, ctx cipher.Context, buf *buffer, transform func([]byte, cipher.Context)) error {
	for {
		n, readErr := src.Read(buf.data[:BufSize])
		if n > 0 {
			transform(buf.data[:n], ctx)
			buf.pending = n
			if err := writeAll(dst, buf); err != nil {
				return errors.Wrap(err, "write")
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}

// writeAll drains buf to dst, compacting on short writes (§3 "Partial
// writes are handled by compacting the residual bytes to the front of the
// same buffer"). Go's net.Conn.Write never partially writes on success; the
// loop covers a net.Conn implementation that reports a short write without
// an error.
func writeAll(dst net.Conn, buf *buffer) error {
	for buf.pending > 0 {
		n, err := dst.Write(buf.Bytes())
		if err != nil {
			return err
		}
		buf.consume(n)
	}
	return nil
}

// isPeerClose reports whether err represents an ordinary peer-initiated
// close rather than a fault worth logging (§7 taxonomy item 2 vs item 3).
func isPeerClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
