package relay

// teardown closes both endpoints exactly once (§4.6, §8 "idempotent
// teardown"). sync.Once gives us the idempotency the spec's
// peer-pointer-nulling dance exists for in the original C model — there is
// no cross-reference to null here because Client and Upstream are plain
// fields of Pair, not independently heap-owned nodes pointing at each
// other, so there is no cycle to break in the first place (§9 design note:
// "in a language with explicit ownership, model endpoints as fields of one
// struct").
func (p *Pair) teardown() {
	p.closeOnce.Do(func() {
		p.stage = StageClosed
		if p.client.conn != nil {
			p.client.conn.Close()
			p.metrics.ClientClosed()
		}
		if p.upstream.connected && p.upstream.conn != nil {
			p.upstream.conn.Close()
			p.metrics.UpstreamClosed()
		}
	})
}

// Close tears the pair down from outside its own goroutine, e.g. during a
// graceful listener shutdown that wants to cut in-flight connections after
// the configured close-wait grace period.
func (p *Pair) Close() {
	p.teardown()
}
