// Package relay implements the per-connection relay engine: the paired
// client/upstream state machines, the handshake parser, and the bidirectional
// streaming loop described in spec.md §3-§5. The reactor's role (§4.1) is
// filled by Go's runtime netpoller plus one goroutine per direction per
// pair — see SPEC_FULL.md §2 for why that is the idiomatic translation.
package relay

import (
	"net"
	"sync"
	"time"

	"github.com/xtaci/ssrelay/internal/cipher"
	"github.com/xtaci/ssrelay/internal/metrics"
)

// Client is the endpoint connected to the user (§3).
type Client struct {
	conn net.Conn
	buf  buffer // cbuf: bytes queued to write back to the client
	eCtx cipher.Context // encrypt direction: bytes going to the client
	dCtx cipher.Context // decrypt direction: bytes coming from the client
}

// Upstream is the endpoint connected to the destination (§3).
type Upstream struct {
	conn      net.Conn
	buf       buffer // ubuf: bytes queued to write to the destination
	connected bool
}

// Pair aggregates one Client and one Upstream endpoint plus the relay
// stage. Invariant 1 (§3): a pair is created in StageHandshaking with an
// Upstream that has no connection yet.
type Pair struct {
	client   *Client
	upstream *Upstream
	stage    Stage

	factory *cipher.Factory
	timeout time.Duration
	metrics *metrics.Counters

	closeOnce sync.Once
}

// NewPair wraps an accepted client connection. Cipher contexts are
// allocated now iff the configured method is stateful (invariant 2, §3).
func NewPair(conn net.Conn, factory *cipher.Factory, timeout time.Duration, m *metrics.Counters) *Pair {
	p := &Pair{
		client: &Client{
			conn: conn,
			eCtx: factory.NewContext(cipher.DirEncryptToClient),
			dCtx: factory.NewContext(cipher.DirDecryptFromClient),
		},
		upstream: &Upstream{},
		stage:    StageHandshaking,
		factory:  factory,
		timeout:  timeout,
		metrics:  m,
	}
	m.ClientOpened()
	return p
}

// Stage returns the pair's current lifecycle position. Used by tests to
// assert the invariants in §8.
func (p *Pair) Stage() Stage {
	return p.stage
}
