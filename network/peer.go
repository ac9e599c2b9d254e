package network

import (
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"uro-core/wire"
)

// State is the connection state of a peer. It only moves forward.
type State int32

const (
	StatePending State = iota
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

const readBufferSize = 64 * 1024

// Peer drives one connection to a remote node. Every event of the peer
// (inbound packets, socket failure, timer firings and API calls) runs on a
// single event loop goroutine, so the request queue, broadcast map and
// timers need no locking. Public methods only enqueue work and never block
// on the network.
type Peer struct {
	id       string
	cfg      Config
	registry Registry
	dial     ConnFactory
	codec    *wire.Codec
	log      *logrus.Entry

	events   *queue[func()]
	outbound *queue[[]byte]
	quit     chan struct{}
	wg       sync.WaitGroup

	// Owned by the event loop.
	conn         net.Conn
	onReady      []func()
	requests     []*request
	broadcasts   map[chainhash.Hash]*broadcastEntry
	backoffTimer *time.Timer
	pingTimer    *time.Timer
	lastBlock    *chainhash.Hash

	// Written only by the event loop; mu lets other goroutines read.
	mu           sync.RWMutex
	state        State
	remoteAddr   string
	version      *btcwire.MsgVersion
	ack          bool
	lastActivity time.Time
	lastPong     time.Time
}

// New creates a peer and starts establishing its connection, either right
// away or after cfg.Backoff. The connection is made by dial.
func New(registry Registry, dial ConnFactory, cfg Config) *Peer {
	id := uuid.New().String()
	p := &Peer{
		id:         id,
		cfg:        cfg,
		registry:   registry,
		dial:       dial,
		codec:      wire.NewCodec(cfg.Params.Net, cfg.Params.ProtocolVersion),
		log:        cfg.Logger.WithField("peer", id),
		events:     newQueue[func()](),
		outbound:   newQueue[[]byte](),
		quit:       make(chan struct{}),
		broadcasts: make(map[chainhash.Hash]*broadcastEntry),
		state:      StatePending,
	}

	p.wg.Add(1)
	if cfg.Backoff > 0 {
		p.backoffTimer = time.AfterFunc(cfg.Backoff, p.connect)
	} else {
		p.connect()
	}
	go p.eventHandler()

	return p
}

// ID returns the unique identifier of the peer.
func (p *Peer) ID() string {
	return p.id
}

// State returns the connection state.
func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Addr returns the remote address, or "" while pending.
func (p *Peer) Addr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteAddr
}

// Version returns the remote's version message, or nil before it arrived.
func (p *Peer) Version() *btcwire.MsgVersion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Acknowledged reports whether the remote acknowledged our version.
func (p *Peer) Acknowledged() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ack
}

// LastActivity returns when the connection was established or last
// completed its handshake.
func (p *Peer) LastActivity() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActivity
}

// LastPong returns when the remote last answered a ping.
func (p *Peer) LastPong() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPong
}

// Done is closed once the peer is destroyed.
func (p *Peer) Done() <-chan struct{} {
	return p.quit
}

// Wait blocks until every goroutine of a destroyed peer has exited.
func (p *Peer) Wait() {
	p.wg.Wait()
}

// Send writes msg to the remote. While pending the write is queued; once
// destroyed it is dropped. Only encoding failures are reported.
func (p *Peer) Send(msg btcwire.Message) error {
	frame, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	p.post(func() { p.write(frame) })
	return nil
}

// Destroy tears the peer down. It is idempotent. A peer that is still
// connecting is destroyed as soon as its connection is ready.
func (p *Peer) Destroy() {
	p.post(p.destroy)
}

// post runs fn on the event loop. Once the loop has exited fn runs right
// here; every loop function starts by checking for StateDestroyed.
func (p *Peer) post(fn func()) {
	if !p.events.push(fn) {
		fn()
	}
}

// eventHandler is the event loop. It must be run as a goroutine.
func (p *Peer) eventHandler() {
	defer p.wg.Done()

	for range p.events.notify {
		for _, fn := range p.events.take() {
			fn()
		}
		if p.state == StateDestroyed {
			p.events.close()
			for _, fn := range p.events.take() {
				fn()
			}
			return
		}
	}
}

// connect dials in the background and hands the result to the loop.
func (p *Peer) connect() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn, err := p.dial()
		p.post(func() { p.connected(conn, err) })
	}()
}

func (p *Peer) connected(conn net.Conn, err error) {
	if err != nil {
		p.fail(&TransportError{Op: "dial", Err: err})
		return
	}
	if p.state == StateDestroyed {
		conn.Close()
		return
	}

	p.conn = conn
	addr := conn.RemoteAddr().String()
	p.log = p.log.WithField("addr", addr)

	p.mu.Lock()
	p.state = StateConnected
	p.remoteAddr = addr
	p.lastActivity = time.Now()
	p.mu.Unlock()

	p.wg.Add(2)
	go p.inHandler(conn)
	go p.outHandler(conn)

	p.log.Info("Peer connected")
	p.handshake()
	if p.cfg.Listeners.OnReady != nil {
		p.cfg.Listeners.OnReady(p)
	}

	deferred := p.onReady
	p.onReady = nil
	for _, fn := range deferred {
		fn()
	}
}

// write queues a frame for the writer goroutine.
func (p *Peer) write(frame []byte) {
	switch p.state {
	case StatePending:
		p.onReady = append(p.onReady, func() { p.write(frame) })
	case StateConnected:
		p.outbound.push(frame)
	}
}

// sendMessage encodes and writes msg from the loop.
func (p *Peer) sendMessage(msg btcwire.Message) {
	frame, err := p.codec.Encode(msg)
	if err != nil {
		p.log.WithError(err).Warn("Dropping outbound message")
		return
	}
	p.write(frame)
}

func (p *Peer) destroy() {
	switch p.state {
	case StateDestroyed:
		return
	case StatePending:
		p.onReady = append(p.onReady, p.destroy)
		return
	}
	p.teardown(nil)
}

// fail tears the peer down because of err and reports it once.
func (p *Peer) fail(err error) {
	if p.state == StateDestroyed {
		return
	}
	p.log.WithError(err).Warn("Peer failed")
	p.teardown(err)
}

// teardown is the only place that stops shared timers. Every outstanding
// request and broadcast gets its terminal outcome here.
func (p *Peer) teardown(err error) {
	p.mu.Lock()
	p.state = StateDestroyed
	p.mu.Unlock()

	close(p.quit)
	if p.backoffTimer != nil {
		p.backoffTimer.Stop()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	if p.pingTimer != nil {
		p.pingTimer.Stop()
		p.pingTimer = nil
	}

	requests := p.requests
	p.requests = nil
	for _, req := range requests {
		req.timer.Stop()
	}

	broadcasts := p.broadcasts
	p.broadcasts = make(map[chainhash.Hash]*broadcastEntry)
	for _, entry := range broadcasts {
		entry.stop()
	}

	deferred := p.onReady
	p.onReady = nil

	p.log.Info("Peer destroyed")
	if p.cfg.Listeners.OnClose != nil {
		p.cfg.Listeners.OnClose(p)
	}

	for _, req := range requests {
		req.fn(nil, ErrDestroyed)
	}
	for _, entry := range broadcasts {
		entry.handle.finish(BroadcastAborted)
	}
	// Deferred writes drop and deferred requests fail now that the
	// state is final.
	for _, fn := range deferred {
		fn()
	}

	if err != nil && p.cfg.Listeners.OnError != nil {
		p.cfg.Listeners.OnError(p, err)
	}
}

// inHandler reads the socket and feeds the codec. It must be run as a
// goroutine.
func (p *Peer) inHandler(conn net.Conn) {
	defer p.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			packets, ferr := p.codec.Feed(buf[:n])
			for _, pkt := range packets {
				p.post(func() { p.handlePacket(pkt) })
			}
			if ferr != nil {
				p.post(func() { p.fail(&TransportError{Op: "decode", Err: ferr}) })
				return
			}
		}
		if err != nil {
			p.post(func() { p.fail(&TransportError{Op: "read", Err: err}) })
			return
		}
	}
}

// outHandler drains the outbound queue onto the socket. It must be run as
// a goroutine.
func (p *Peer) outHandler(conn net.Conn) {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case <-p.outbound.notify:
		}
		for _, frame := range p.outbound.take() {
			if _, err := conn.Write(frame); err != nil {
				p.post(func() { p.fail(&TransportError{Op: "write", Err: err}) })
				return
			}
		}
	}
}
