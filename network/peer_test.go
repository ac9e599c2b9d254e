package network

import (
	"errors"
	"net"
	"testing"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"uro-core/chaincfg"
	"uro-core/wire"
)

func TestHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := newTestPeer(t, &testRegistry{}, rec, WithStartHeight(321), WithRelay(true))
	defer shutdown(p, r)

	waitFor(t, rec.ready)
	require.Equal(t, StateConnected, p.State())

	pkt := r.expect(wire.CmdVersion)
	local := pkt.Message.(*btcwire.MsgVersion)
	require.Equal(t, int32(321), local.LastBlock)
	require.Equal(t, int32(chaincfg.RegressionNetParams.ProtocolVersion), local.ProtocolVersion)
	require.True(t, local.DisableRelayTx)

	r.send(remoteVersion(70012))
	r.expect(wire.CmdVerAck)

	version := waitFor(t, rec.versions)
	require.Equal(t, int32(500), version.LastBlock)
	require.Equal(t, version, p.Version())

	// Acknowledged only once the remote's verack arrives.
	require.False(t, p.Acknowledged())
	r.send(btcwire.NewMsgVerAck())
	waitFor(t, rec.acks)
	require.True(t, p.Acknowledged())
	require.Equal(t, 0, queued(p))
}

func TestHandshakeVersionTooLow(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := newTestPeer(t, &testRegistry{}, rec)
	defer shutdown(p, r)

	r.expect(wire.CmdVersion)
	r.send(remoteVersion(70011))

	err := waitFor(t, rec.errs)
	var verr *ProtocolVersionError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, int32(70011), verr.Version)
	require.Equal(t, uint32(70012), verr.Min)
	waitFor(t, rec.closed)
	require.Equal(t, StateDestroyed, p.State())
	require.False(t, p.Acknowledged())

	for _, pkt := range r.drain() {
		require.NotEqual(t, wire.CmdVerAck, pkt.Command)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := newTestPeer(t, &testRegistry{}, rec, WithRequestTimeout(50*time.Millisecond))
	defer shutdown(p, r)

	r.expect(wire.CmdVersion)

	var terr *TimeoutError
	require.ErrorAs(t, waitFor(t, rec.errs), &terr)
	require.Equal(t, wire.CmdVerAck, terr.Command)
	require.Equal(t, StateDestroyed, p.State())
}

func TestDestroyIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)

	p.Destroy()
	p.Destroy()
	p.Wait()
	p.Destroy()
	r.close()

	waitFor(t, rec.closed)
	select {
	case <-rec.closed:
		t.Fatal("close notified twice")
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, rec.errs)

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after destroy")
	}
}

func TestRemoteHangup(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)

	results := make(chan error, 1)
	p.Request(wire.CmdHeaders, func(_ *wire.Packet, err error) Outcome {
		results <- err
		return Consume
	})
	require.Eventually(t, func() bool { return queued(p) == 1 }, waitTimeout, 5*time.Millisecond)

	r.close()

	waitFor(t, rec.closed)
	var terr *TransportError
	require.ErrorAs(t, waitFor(t, rec.errs), &terr)
	require.ErrorIs(t, waitFor(t, results), ErrDestroyed)
	p.Wait()
}

func TestMalformedFrame(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := connectedPeer(t, &testRegistry{}, rec)
	defer shutdown(p, r)

	garbage := make([]byte, wire.HeaderSize)
	copy(garbage, "not a frame at all")
	_, err := r.conn.Write(garbage)
	require.NoError(t, err)

	err = waitFor(t, rec.errs)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "decode", terr.Op)
	require.ErrorIs(t, err, wire.ErrBadMagic)
}

func TestDialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	cfg := NewConfig(WithParams(&chaincfg.RegressionNetParams), WithListeners(rec.listeners()))
	p := New(&testRegistry{}, func() (net.Conn, error) { return nil, errDial }, cfg)

	err := waitFor(t, rec.errs)
	require.True(t, errors.Is(err, errDial))
	p.Wait()
	require.Equal(t, StateDestroyed, p.State())

	results := make(chan error, 1)
	p.Request("", func(_ *wire.Packet, err error) Outcome {
		results <- err
		return Consume
	})
	require.ErrorIs(t, waitFor(t, results), ErrDestroyed)
}

func TestBackoffDefersWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := newTestPeer(t, &testRegistry{}, rec, WithBackoff(50*time.Millisecond))
	defer shutdown(p, r)

	require.Equal(t, StatePending, p.State())
	require.NoError(t, p.Send(btcwire.NewMsgGetAddr()))

	results := make(chan error, 1)
	p.Request(wire.CmdHeaders, func(_ *wire.Packet, err error) Outcome {
		results <- err
		return Consume
	})

	// The greeting goes first; queued writes follow in order.
	r.expect(wire.CmdVersion)
	r.expect(wire.CmdGetAddr)
	waitFor(t, rec.ready)

	r.send(remoteVersion(70013))
	r.expect(wire.CmdVerAck)
	r.send(btcwire.NewMsgVerAck())
	waitFor(t, rec.acks)

	// The deferred request sits behind the verack expectation.
	r.send(btcwire.NewMsgHeaders())
	require.NoError(t, waitFor(t, results))
}

func TestDestroyWhilePending(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecorder()
	p, r := newTestPeer(t, &testRegistry{}, rec, WithBackoff(50*time.Millisecond))

	results := make(chan error, 1)
	p.Request(wire.CmdHeaders, func(_ *wire.Packet, err error) Outcome {
		results <- err
		return Consume
	})
	p.Destroy()
	require.Equal(t, StatePending, p.State())

	waitFor(t, rec.closed)
	require.ErrorIs(t, waitFor(t, results), ErrDestroyed)
	p.Wait()
	r.close()
	require.Empty(t, rec.errs)
}
