package network

import (
	"sync"
	"testing"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"uro-core/wire"
)

// calls counts callback invocations per request.
type calls struct {
	mu   sync.Mutex
	log  []string
	errs map[string][]error
}

func newCalls() *calls {
	return &calls{errs: make(map[string][]error)}
}

func (c *calls) fn(name string, outcome Outcome) ResponseFunc {
	return func(pkt *wire.Packet, err error) Outcome {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.errs[name] = append(c.errs[name], err)
			return Consume
		}
		c.log = append(c.log, name+":"+pkt.Command)
		return outcome
	}
}

func (c *calls) snapshot() ([]string, map[string][]error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make(map[string][]error, len(c.errs))
	for k, v := range c.errs {
		errs[k] = append([]error(nil), v...)
	}
	return append([]string(nil), c.log...), errs
}

func TestRequestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec, WithRequestTimeout(200*time.Millisecond))
	defer shutdown(p, r)

	c := newCalls()
	p.Request(wire.CmdHeaders, c.fn("a", Consume))

	require.Eventually(t, func() bool {
		_, errs := c.snapshot()
		return len(errs["a"]) > 0
	}, waitTimeout, 5*time.Millisecond)

	// Nothing fires a second time and the entry is gone.
	time.Sleep(300 * time.Millisecond)
	_, errs := c.snapshot()
	require.Len(t, errs["a"], 1)
	var terr *TimeoutError
	require.ErrorAs(t, errs["a"][0], &terr)
	require.Equal(t, wire.CmdHeaders, terr.Command)
	require.Equal(t, 0, queued(p))
	require.Equal(t, StateConnected, p.State())
}

func TestDestroyFlushesRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec, WithRequestTimeout(100*time.Millisecond))

	c := newCalls()
	names := []string{"a", "b", "c"}
	for _, name := range names {
		p.Request(wire.CmdHeaders, c.fn(name, Consume))
	}
	require.Equal(t, 3, queued(p))

	p.Destroy()
	p.Wait()
	r.close()

	// Past the request timeout: no timer may fire after destroy.
	time.Sleep(250 * time.Millisecond)
	_, errs := c.snapshot()
	for _, name := range names {
		require.Len(t, errs[name], 1, name)
		require.ErrorIs(t, errs[name][0], ErrDestroyed)
	}

	// Requests after destroy fail right away and enqueue nothing.
	p.Request(wire.CmdHeaders, c.fn("late", Consume))
	_, errs = c.snapshot()
	require.Len(t, errs["late"], 1)
	require.ErrorIs(t, errs["late"][0], ErrDestroyed)
	require.Equal(t, 0, queued(p))
}

func TestCorrelatorOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)
	defer shutdown(p, r)

	c := newCalls()
	p.Request(wire.CmdHeaders, c.fn("A", Consume))
	p.Request(wire.CmdNotFound, c.fn("B1", Consume))
	p.Request(wire.CmdNotFound, c.fn("B2", Consume))

	// B against a head expecting A: unhandled, surfaced as an event.
	r.send(btcwire.NewMsgNotFound())
	pkt := waitFor(t, rec.packets)
	require.Equal(t, wire.CmdNotFound, pkt.Command)

	r.send(btcwire.NewMsgHeaders())
	r.send(btcwire.NewMsgNotFound())
	r.barrier(1)

	log, _ := c.snapshot()
	require.Equal(t, []string{"A:headers", "B1:notfound"}, log)
	require.Equal(t, 1, queued(p))
	require.Empty(t, rec.packets)
}

func TestCorrelatorContinue(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec, WithRequestTimeout(150*time.Millisecond))
	defer shutdown(p, r)

	// A wildcard request collecting a multi-packet reply.
	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	p.Request("", func(pkt *wire.Packet, err error) Outcome {
		if err != nil {
			done <- err
			return Consume
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, pkt.Command)
		if pkt.Command == wire.CmdHeaders {
			done <- nil
			return Consume
		}
		return Continue
	})

	// Each packet restarts the timeout, so the exchange may outlast a
	// single timeout period.
	for i := 0; i < 3; i++ {
		time.Sleep(100 * time.Millisecond)
		r.send(btcwire.NewMsgNotFound())
	}
	r.send(btcwire.NewMsgHeaders())

	require.NoError(t, waitFor(t, done))
	mu.Lock()
	require.Equal(t, []string{"notfound", "notfound", "notfound", "headers"}, got)
	mu.Unlock()
	require.Equal(t, 0, queued(p))
	require.Empty(t, rec.packets)
}

func TestCorrelatorSkipConsumesMatchedEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)
	defer shutdown(p, r)

	c := newCalls()
	p.Request("", c.fn("skipper", Skip))
	p.Request(wire.CmdNotFound, c.fn("taker", Consume))

	r.send(btcwire.NewMsgNotFound())
	r.barrier(2)

	log, _ := c.snapshot()
	require.Equal(t, []string{"skipper:notfound", "taker:notfound"}, log)

	// The skipping head survives; the matched entry was removed.
	require.Equal(t, 1, queued(p))
	r.send(btcwire.NewMsgNotFound())
	r.barrier(3)
	log, _ = c.snapshot()
	require.Equal(t, []string{"skipper:notfound", "taker:notfound", "skipper:notfound"}, log)

	// With nobody left to take it the packet becomes an event.
	pkt := waitFor(t, rec.packets)
	require.Equal(t, wire.CmdNotFound, pkt.Command)
}

func TestTxCarriesLastBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)
	defer shutdown(p, r)

	block := testBlock(1)
	tx := testTx(2)

	r.send(tx)
	first := waitFor(t, rec.packets)
	require.Nil(t, first.Block)

	r.send(block)
	blockPkt := waitFor(t, rec.packets)
	require.Equal(t, wire.CmdBlock, blockPkt.Command)

	r.send(tx)
	txPkt := waitFor(t, rec.packets)
	require.Equal(t, wire.CmdTx, txPkt.Command)
	want := block.BlockHash()
	require.Equal(t, &want, txPkt.Block)

}
