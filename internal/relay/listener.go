package relay

import (
	"log"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/ssrelay/internal/cipher"
	"github.com/xtaci/ssrelay/internal/metrics"
	"github.com/xtaci/ssrelay/internal/reactor"
)

// Listener owns one bound, listening TCP socket and the per-connection
// timeout every pair it accepts inherits (§3 "Listener" data model entry).
type Listener struct {
	ln      net.Listener
	timeout time.Duration
	factory *cipher.Factory
	metrics *metrics.Counters
	disp    *reactor.Dispatcher
}

// Listen binds addr ("host:port") with SO_REUSEADDR semantics and a large
// backlog, matching §4.5. Go's net package sets SO_REUSEADDR on every
// listening TCP socket it creates and lets the kernel pick SOMAXCONN for the
// backlog — there is no portable way (or need) to request a bigger one.
func Listen(addr string, timeout time.Duration, factory *cipher.Factory, m *metrics.Counters) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "relay: listen %s", addr)
	}
	return &Listener{
		ln:      ln,
		timeout: timeout,
		factory: factory,
		metrics: m,
		disp:    &reactor.Dispatcher{},
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until the listener is closed, dispatching each
// one as a new Pair's Run goroutine (§4.5: "Successful fd is set
// non-blocking, wrapped in a new ConnectionPair with stage = HANDSHAKING").
// Accept errors are logged and tolerated — the listener keeps accepting
// (§7 item 5: "the listener continues") — except for the error produced by
// Close, which ends Serve.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("accept on %s: %+v", l.Addr(), err)
			continue
		}

		pair := NewPair(conn, l.factory, l.timeout, l.metrics)
		l.disp.Dispatch(pair.Run, pair.Close)
	}
}

// Close stops accepting new connections. In-flight pairs are unaffected —
// callers that want a graceful drain should wait on DrainTimeout separately.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// DrainTimeout blocks until every pair this listener has dispatched has
// torn down, or until timeout elapses, whichever comes first — the
// "-closewait" grace period (§12 of SPEC_FULL.md). Once the deadline passes,
// any pair still running, whatever its stage, is force-closed so shutdown
// can complete; a
// non-positive timeout waits indefinitely instead.
func (l *Listener) DrainTimeout(timeout time.Duration) {
	l.disp.DrainTimeout(timeout)
}
