package network

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"uro-core/chaincfg"
	"uro-core/wire"
)

const waitTimeout = 2 * time.Second

// testRegistry is a fixed Registry.
type testRegistry struct {
	mu         sync.Mutex
	candidates []Candidate
	tip        chainhash.Hash
	tipErr     error
	filter     *wire.BloomFilter
}

func (r *testRegistry) Candidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates
}

func (r *testRegistry) ChainTip() (chainhash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tip, r.tipErr
}

func (r *testRegistry) Filter() *wire.BloomFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// recorder captures listener notifications on buffered channels.
type recorder struct {
	ready    chan struct{}
	closed   chan struct{}
	errs     chan error
	versions chan *btcwire.MsgVersion
	acks     chan struct{}
	blocks   chan []*chainhash.Hash
	txs      chan []*chainhash.Hash
	addrs    chan *wire.AddressRecord
	packets  chan *wire.Packet
}

func newRecorder() *recorder {
	return &recorder{
		ready:    make(chan struct{}, 8),
		closed:   make(chan struct{}, 8),
		errs:     make(chan error, 8),
		versions: make(chan *btcwire.MsgVersion, 8),
		acks:     make(chan struct{}, 8),
		blocks:   make(chan []*chainhash.Hash, 64),
		txs:      make(chan []*chainhash.Hash, 64),
		addrs:    make(chan *wire.AddressRecord, 64),
		packets:  make(chan *wire.Packet, 64),
	}
}

func (r *recorder) listeners() Listeners {
	return Listeners{
		OnReady:   func(*Peer) { r.ready <- struct{}{} },
		OnClose:   func(*Peer) { r.closed <- struct{}{} },
		OnError:   func(_ *Peer, err error) { r.errs <- err },
		OnVersion: func(_ *Peer, msg *btcwire.MsgVersion) { r.versions <- msg },
		OnAck:     func(*Peer) { r.acks <- struct{}{} },
		OnBlocks:  func(_ *Peer, hashes []*chainhash.Hash) { r.blocks <- hashes },
		OnTxs:     func(_ *Peer, hashes []*chainhash.Hash) { r.txs <- hashes },
		OnAddr:    func(_ *Peer, rec *wire.AddressRecord) { r.addrs <- rec },
		OnPacket:  func(_ *Peer, pkt *wire.Packet) { r.packets <- pkt },
	}
}

// remote is the far end of a piped connection, speaking the wire
// protocol by hand.
type remote struct {
	t       *testing.T
	conn    net.Conn
	codec   *wire.Codec
	packets chan *wire.Packet
	done    chan struct{}
}

func newRemote(t *testing.T, conn net.Conn) *remote {
	params := &chaincfg.RegressionNetParams
	r := &remote{
		t:       t,
		conn:    conn,
		codec:   wire.NewCodec(params.Net, params.ProtocolVersion),
		packets: make(chan *wire.Packet, 1024),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer close(r.packets)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				pkts, ferr := r.codec.Feed(buf[:n])
				for _, pkt := range pkts {
					r.packets <- pkt
				}
				if ferr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return r
}

func (r *remote) send(msg btcwire.Message) {
	r.t.Helper()
	frame, err := r.codec.Encode(msg)
	require.NoError(r.t, err)
	_, err = r.conn.Write(frame)
	require.NoError(r.t, err)
}

func (r *remote) next() *wire.Packet {
	r.t.Helper()
	select {
	case pkt, ok := <-r.packets:
		require.True(r.t, ok, "connection closed")
		return pkt
	case <-time.After(waitTimeout):
		require.FailNow(r.t, "timed out waiting for a packet")
	}
	return nil
}

func (r *remote) expect(command string) *wire.Packet {
	r.t.Helper()
	pkt := r.next()
	require.Equal(r.t, command, pkt.Command)
	return pkt
}

// drain collects everything the peer sends until the pipe closes.
func (r *remote) drain() []*wire.Packet {
	var pkts []*wire.Packet
	for {
		select {
		case pkt, ok := <-r.packets:
			if !ok {
				return pkts
			}
			pkts = append(pkts, pkt)
		case <-time.After(waitTimeout):
			require.FailNow(r.t, "connection never closed")
		}
	}
}

func (r *remote) close() {
	r.conn.Close()
	for range r.packets {
	}
	<-r.done
}

// handshake completes the version exchange from the remote side.
func (r *remote) handshake() {
	r.t.Helper()
	r.expect(wire.CmdVersion)
	r.send(remoteVersion(70013))
	r.expect(wire.CmdVerAck)
	r.send(btcwire.NewMsgVerAck())
}

func remoteVersion(pver int32) *btcwire.MsgVersion {
	me := btcwire.NewNetAddressIPPort(net.ParseIP("10.0.0.2"), 46348, btcwire.SFNodeNetwork)
	you := btcwire.NewNetAddressIPPort(net.ParseIP("10.0.0.1"), 46348, 0)
	msg := btcwire.NewMsgVersion(me, you, 99, 500)
	msg.ProtocolVersion = pver
	msg.Services = btcwire.SFNodeNetwork
	return msg
}

// newTestPeer connects a peer to a remote over a pipe.
func newTestPeer(t *testing.T, reg Registry, rec *recorder, opts ...ConfigOptionFunc) (*Peer, *remote) {
	local, far := net.Pipe()
	base := []ConfigOptionFunc{
		WithParams(&chaincfg.RegressionNetParams),
		WithListeners(rec.listeners()),
	}
	cfg := NewConfig(append(base, opts...)...)
	p := New(reg, func() (net.Conn, error) { return local, nil }, cfg)
	return p, newRemote(t, far)
}

// connectedPeer returns a peer that finished its handshake.
func connectedPeer(t *testing.T, reg Registry, rec *recorder, opts ...ConfigOptionFunc) (*Peer, *remote) {
	p, r := newTestPeer(t, reg, rec, opts...)
	r.handshake()
	waitFor(t, rec.acks)
	return p, r
}

func shutdown(p *Peer, r *remote) {
	p.Destroy()
	p.Wait()
	r.close()
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for notification")
	}
	var zero T
	return zero
}

// queued reads the request queue length on the event loop.
func queued(p *Peer) int {
	ch := make(chan int, 1)
	p.post(func() { ch <- len(p.requests) })
	return <-ch
}

// barrier returns once the remote has seen everything the peer wrote
// before a ping round trip.
func (r *remote) barrier(nonce uint64) []*wire.Packet {
	r.t.Helper()
	r.send(btcwire.NewMsgPing(nonce))
	var seen []*wire.Packet
	for {
		pkt := r.next()
		if pong, ok := pkt.Message.(*btcwire.MsgPong); ok && pong.Nonce == nonce {
			return seen
		}
		seen = append(seen, pkt)
	}
}

func testTx(n uint32) *btcwire.MsgTx {
	tx := btcwire.NewMsgTx(1)
	tx.AddTxIn(btcwire.NewTxIn(btcwire.NewOutPoint(&chainhash.Hash{byte(n)}, n), []byte{0x51}, nil))
	tx.AddTxOut(btcwire.NewTxOut(int64(n)*1000, []byte{0x51}))
	return tx
}

func testBlock(n uint32) *btcwire.MsgBlock {
	block := btcwire.NewMsgBlock(btcwire.NewBlockHeader(1, &chainhash.Hash{}, &chainhash.Hash{byte(n)}, 0x1e0ffff0, n))
	_ = block.AddTransaction(testTx(n))
	return block
}

var errDial = errors.New("connection refused")
