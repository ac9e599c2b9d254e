package network

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"uro-core/chaincfg"
	"uro-core/tor"
	"uro-core/wire"
)

// Peer manager defaults
const (
	DefaultMaxPeers       = 8
	DefaultMaxInbound     = 117
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialRate       = 2

	maxReconnectAttempts = 10
	maxReconnectDelay    = 5 * time.Minute
	maintenanceInterval  = 30 * time.Second
	maxAddresses         = 2000
	inventoryExpiry      = 10 * time.Minute
)

// AddressStore persists gossiped addresses and the chain tip.
type AddressStore interface {
	PutAddress(rec *wire.AddressRecord) error
	RemoveAddress(host string) error
	Addresses(limit int) ([]*wire.AddressRecord, error)
	PutTip(hash chainhash.Hash) error
	Tip() (chainhash.Hash, error)
}

// ContextDialer opens outbound connections.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ManagerConfig holds the settings of a PeerManager.
type ManagerConfig struct {
	Params *chaincfg.Params
	Logger *logrus.Logger

	// Dialer defaults to a plain net.Dialer.
	Dialer ContextDialer
	// Store is optional; without it gossip and tip live in memory only.
	Store AddressStore
	// Resolver is optional; without it DNS seeds are skipped.
	Resolver *SeedResolver
	Tor      bool

	MaxPeers       int
	MaxInbound     int
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	DialRate       float64
	SeedNodes      []string

	// PeerOptions configure every peer the manager creates.
	PeerOptions []ConfigOptionFunc

	// OnWatchedTx is called for every relayed transaction that matches
	// the watch filter, with the block it arrived in, if any.
	OnWatchedTx func(tx *btcwire.MsgTx, block *chainhash.Hash)
}

type managedPeer struct {
	peer    *Peer
	addr    string
	inbound bool
	manual  bool
	attempt int
	removed bool
}

// PeerManager owns the node's peers. It dials seeds and gossiped
// addresses, accepts inbound connections, reconnects lost outbound peers
// and serves as the Registry of every peer it creates.
type PeerManager struct {
	cfg       ManagerConfig
	log       *logrus.Entry
	limiter   *rate.Limiter
	inventory *cache.Cache
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.RWMutex
	peers    map[string]*managedPeer
	addrs    map[string]*wire.AddressRecord
	tip      *chainhash.Hash
	filter   *wire.BloomFilter
	listener net.Listener
	stopped  bool
}

// NewPeerManager creates a peer manager, loading known addresses and the
// chain tip from the store.
func NewPeerManager(cfg ManagerConfig) *PeerManager {
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.Logger == nil {
		cfg.Logger = NewConfig().Logger
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.MaxInbound <= 0 {
		cfg.MaxInbound = DefaultMaxInbound
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialRate <= 0 {
		cfg.DialRate = DefaultDialRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &PeerManager{
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "peermanager"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.DialRate), 1),
		inventory: cache.New(inventoryExpiry, 0),
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[string]*managedPeer),
		addrs:     make(map[string]*wire.AddressRecord),
	}

	if cfg.Store != nil {
		records, err := cfg.Store.Addresses(maxAddresses)
		if err != nil {
			m.log.WithError(err).Warn("Failed to load address book")
		}
		for _, rec := range records {
			m.addrs[rec.Host()] = rec
		}
		if tip, err := cfg.Store.Tip(); err == nil {
			m.tip = &tip
		}
	}

	return m
}

// Candidates implements Registry.
func (m *PeerManager) Candidates() []Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]Candidate, 0, len(m.addrs))
	for _, rec := range m.addrs {
		candidates = append(candidates, Candidate{
			Host:      rec.IP().String(),
			Port:      rec.Port,
			Services:  rec.Services,
			Timestamp: rec.Timestamp,
		})
	}
	return candidates
}

// ChainTip implements Registry. Before any block was announced it is the
// genesis block.
func (m *PeerManager) ChainTip() (chainhash.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tip != nil {
		return *m.tip, nil
	}
	if m.cfg.Params.GenesisHash == nil {
		return chainhash.Hash{}, fmt.Errorf("no chain tip for %s", m.cfg.Params.Name)
	}
	return *m.cfg.Params.GenesisHash, nil
}

// Filter implements Registry.
func (m *PeerManager) Filter() *wire.BloomFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// SetFilter replaces the watch filter and pushes it to every peer.
func (m *PeerManager) SetFilter(filter *wire.BloomFilter) {
	m.mu.Lock()
	m.filter = filter
	peers := m.snapshot()
	m.mu.Unlock()

	for _, mp := range peers {
		mp.peer.UpdateWatch()
	}
}

// DiscoverPeers returns the addresses to dial on startup: manual seed
// nodes first, then onion seeds when running over Tor, then DNS seeds and
// finally the fixed seeds of the network.
func (m *PeerManager) DiscoverPeers(ctx context.Context) []string {
	peers := append([]string(nil), m.cfg.SeedNodes...)

	if m.cfg.Tor {
		peers = append(peers, m.cfg.Params.TorOnionSeeds...)
	}

	if m.cfg.Resolver != nil {
		for _, seed := range m.cfg.Params.DNSSeeds {
			addrs, err := m.cfg.Resolver.Resolve(ctx, seed, m.cfg.Params.DefaultPort)
			if err != nil {
				m.log.WithError(err).WithField("seed", seed).Warn("DNS seed lookup failed")
			}
			peers = append(peers, addrs...)
		}
	}

	peers = append(peers, m.cfg.Params.FixedSeeds...)
	m.log.WithField("count", len(peers)).Info("Discovered peers")
	return peers
}

// Start connects to discovered peers and starts the maintenance loop.
func (m *PeerManager) Start() {
	m.fillOutbound(m.DiscoverPeers(m.ctx))

	m.wg.Add(1)
	go m.maintenanceLoop()
}

// Listen accepts inbound connections on addr.
func (m *PeerManager) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start P2P listener: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		listener.Close()
		return ErrManagerStopped
	}
	m.listener = listener
	m.mu.Unlock()

	m.log.WithField("addr", listener.Addr().String()).Info("P2P listener started")

	m.wg.Add(1)
	go m.acceptLoop(listener)
	return nil
}

// ListenAddr returns the address of the inbound listener, if any.
func (m *PeerManager) ListenAddr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop destroys every peer and stops accepting connections.
func (m *PeerManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	if m.listener != nil {
		m.listener.Close()
	}
	peers := m.snapshot()
	delayed := make(map[*managedPeer]bool, len(peers))
	for _, mp := range peers {
		delayed[mp] = mp.attempt > 0
	}
	m.mu.Unlock()

	for _, mp := range peers {
		mp.peer.Destroy()
	}
	// A peer still waiting out its reconnect delay finishes once the delay
	// fires; its dial fails against the cancelled context.
	for _, mp := range peers {
		if delayed[mp] && mp.peer.State() == StatePending {
			continue
		}
		mp.peer.Wait()
	}
	m.wg.Wait()

	m.log.Info("Peer manager stopped")
}

// AddNode connects to addr and keeps reconnecting to it.
func (m *PeerManager) AddNode(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid node address %q: %w", addr, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	if m.findLocked(addr) != nil {
		return ErrAlreadyConnected
	}
	m.connectLocked(addr, true, 0)
	return nil
}

// DisconnectNode drops the peer with the given address or id. It is not
// reconnected.
func (m *PeerManager) DisconnectNode(target string) error {
	m.mu.Lock()
	mp := m.findLocked(target)
	if mp == nil {
		m.mu.Unlock()
		return ErrPeerNotFound
	}
	mp.removed = true
	m.mu.Unlock()

	mp.peer.Destroy()
	return nil
}

// Broadcast announces items to every acknowledged peer. The handles of
// all peers are returned together.
func (m *PeerManager) Broadcast(items ...wire.Item) ([]*Broadcast, error) {
	for _, item := range items {
		m.markSeen(item.Hash())
	}

	m.mu.RLock()
	peers := m.snapshot()
	m.mu.RUnlock()

	var handles []*Broadcast
	for _, mp := range peers {
		if !mp.peer.Acknowledged() {
			continue
		}
		h, err := mp.peer.Broadcast(items...)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h...)
	}
	return handles, nil
}

// KnownInventory reports whether hash was announced recently.
func (m *PeerManager) KnownInventory(hash chainhash.Hash) bool {
	_, ok := m.inventory.Get(hash.String())
	return ok
}

// PeerInfo contains information about a peer.
type PeerInfo struct {
	ID           string    `json:"id"`
	Addr         string    `json:"addr"`
	Inbound      bool      `json:"inbound"`
	Manual       bool      `json:"manual"`
	State        string    `json:"state"`
	Acknowledged bool      `json:"acknowledged"`
	Version      int32     `json:"version"`
	UserAgent    string    `json:"subver"`
	Services     uint64    `json:"services"`
	StartHeight  int32     `json:"startingheight"`
	LastActivity time.Time `json:"lastactivity"`
	LastPong     time.Time `json:"lastpong"`
}

// GetPeerInfo returns information about all peers, ordered by address.
func (m *PeerManager) GetPeerInfo() []PeerInfo {
	m.mu.RLock()
	peers := m.snapshot()
	m.mu.RUnlock()

	info := make([]PeerInfo, 0, len(peers))
	for _, mp := range peers {
		p := mp.peer
		pi := PeerInfo{
			ID:           p.ID(),
			Addr:         mp.addr,
			Inbound:      mp.inbound,
			Manual:       mp.manual,
			State:        p.State().String(),
			Acknowledged: p.Acknowledged(),
			LastActivity: p.LastActivity(),
			LastPong:     p.LastPong(),
		}
		if v := p.Version(); v != nil {
			pi.Version = v.ProtocolVersion
			pi.UserAgent = v.UserAgent
			pi.Services = uint64(v.Services)
			pi.StartHeight = v.LastBlock
		}
		info = append(info, pi)
	}

	sort.Slice(info, func(i, j int) bool { return info[i].Addr < info[j].Addr })
	return info
}

// ConnectionCount returns the number of connected peers.
func (m *PeerManager) ConnectionCount() int {
	m.mu.RLock()
	peers := m.snapshot()
	m.mu.RUnlock()

	n := 0
	for _, mp := range peers {
		if mp.peer.State() == StateConnected {
			n++
		}
	}
	return n
}

// NodeAddresses returns up to count known addresses. Zero returns all.
func (m *PeerManager) NodeAddresses(count int) []*wire.AddressRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*wire.AddressRecord, 0, len(m.addrs))
	for _, rec := range m.addrs {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if count > 0 && len(records) > count {
		records = records[:count]
	}
	return records
}

// snapshot copies the peer set. The caller holds mu.
func (m *PeerManager) snapshot() []*managedPeer {
	peers := make([]*managedPeer, 0, len(m.peers))
	for _, mp := range m.peers {
		peers = append(peers, mp)
	}
	return peers
}

// findLocked looks a peer up by id or address. The caller holds mu.
func (m *PeerManager) findLocked(target string) *managedPeer {
	if mp, ok := m.peers[target]; ok {
		return mp
	}
	for _, mp := range m.peers {
		if mp.addr == target {
			return mp
		}
	}
	return nil
}

func (m *PeerManager) outboundCountLocked() int {
	n := 0
	for _, mp := range m.peers {
		if !mp.inbound && !mp.manual {
			n++
		}
	}
	return n
}

func (m *PeerManager) inboundCountLocked() int {
	n := 0
	for _, mp := range m.peers {
		if mp.inbound {
			n++
		}
	}
	return n
}

// fillOutbound dials addresses until the outbound limit is reached.
func (m *PeerManager) fillOutbound(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, addr := range addrs {
		if m.stopped || m.outboundCountLocked() >= m.cfg.MaxPeers {
			return
		}
		if tor.IsOnionAddress(addr) && !m.cfg.Tor {
			continue
		}
		if m.findLocked(addr) != nil {
			continue
		}
		m.connectLocked(addr, false, 0)
	}
}

// maintenanceLoop periodically expires seen inventory and tops up
// outbound peers from gossip.
func (m *PeerManager) maintenanceLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		m.inventory.DeleteExpired()

		var addrs []string
		for _, rec := range m.NodeAddresses(0) {
			addrs = append(addrs, rec.Host())
		}
		m.fillOutbound(addrs)
	}
}

func (m *PeerManager) acceptLoop(listener net.Listener) {
	defer m.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("Failed to accept connection")
			continue
		}

		m.mu.Lock()
		if m.stopped || m.inboundCountLocked() >= m.cfg.MaxInbound {
			m.mu.Unlock()
			m.log.WithField("addr", conn.RemoteAddr().String()).Info("Rejecting inbound connection")
			conn.Close()
			continue
		}
		mp := &managedPeer{addr: conn.RemoteAddr().String(), inbound: true}
		mp.peer = New(m, func() (net.Conn, error) { return conn, nil }, m.peerConfig(mp, 0))
		m.peers[mp.peer.ID()] = mp
		m.mu.Unlock()
	}
}

// connectLocked creates an outbound peer for addr. Reconnects wait out an
// exponentially growing delay through the peer's backoff. The caller
// holds mu.
func (m *PeerManager) connectLocked(addr string, manual bool, attempt int) {
	var backoff time.Duration
	if attempt > 0 {
		backoff = reconnectDelay(m.cfg.ReconnectDelay, attempt)
		m.log.WithFields(logrus.Fields{
			"addr":    addr,
			"attempt": attempt,
			"delay":   backoff,
		}).Info("Scheduling reconnection")
	}

	mp := &managedPeer{addr: addr, manual: manual, attempt: attempt}
	mp.peer = New(m, m.dialer(addr), m.peerConfig(mp, backoff))
	m.peers[mp.peer.ID()] = mp
}

// reconnectDelay doubles base with every attempt, adds up to 25% jitter
// and caps the result.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay <= 0 || delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}

// dialer paces outbound connection attempts and routes them through the
// configured dialer.
func (m *PeerManager) dialer(addr string) ConnFactory {
	return func() (net.Conn, error) {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
		defer cancel()

		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return m.cfg.Dialer.DialContext(ctx, "tcp", addr)
	}
}

func (m *PeerManager) peerConfig(mp *managedPeer, backoff time.Duration) Config {
	opts := append([]ConfigOptionFunc{}, m.cfg.PeerOptions...)
	opts = append(opts,
		WithParams(m.cfg.Params),
		WithLogger(m.cfg.Logger),
		WithBackoff(backoff),
		WithListeners(m.listeners(mp)),
	)
	return NewConfig(opts...)
}

func (m *PeerManager) listeners(mp *managedPeer) Listeners {
	return Listeners{
		OnVersion: func(p *Peer, msg *btcwire.MsgVersion) {
			if mp.inbound {
				return
			}
			if rec, ok := hostPortRecord(mp.addr, msg.Services); ok {
				m.addAddress(rec)
			}
		},
		OnAck: func(p *Peer) {
			m.mu.Lock()
			mp.attempt = 0
			m.mu.Unlock()

			p.UpdateWatch()
			if err := p.Send(btcwire.NewMsgGetAddr()); err != nil {
				m.log.WithError(err).Warn("Failed to request addresses")
			}
		},
		OnAddr: func(_ *Peer, rec *wire.AddressRecord) {
			m.addAddress(rec)
		},
		OnBlocks: func(_ *Peer, hashes []*chainhash.Hash) {
			var latest *chainhash.Hash
			for _, hash := range hashes {
				if m.markSeen(*hash) {
					latest = hash
				}
			}
			if latest != nil {
				m.setTip(*latest)
			}
		},
		OnTxs: func(_ *Peer, hashes []*chainhash.Hash) {
			for _, hash := range hashes {
				m.markSeen(*hash)
			}
		},
		OnPacket: func(p *Peer, pkt *wire.Packet) {
			if tx, ok := pkt.Message.(*btcwire.MsgTx); ok {
				m.watchedTx(p, tx, pkt.Block)
				return
			}
			p.log.WithField("command", pkt.Command).Debug("Unhandled packet")
		},
		OnError: func(p *Peer, err error) {
			p.log.WithError(err).Debug("Peer error")
		},
		OnClose: func(p *Peer) {
			m.peerClosed(mp)
		},
	}
}

// peerClosed forgets a closed peer and reconnects it if it was ours. An
// address that keeps failing is dropped from the address book.
func (m *PeerManager) peerClosed(mp *managedPeer) {
	if m.reconnect(mp) {
		return
	}
	m.forgetAddress(mp.addr)
}

// reconnect replaces a closed peer. It reports false once the peer ran
// out of reconnection attempts.
func (m *PeerManager) reconnect(mp *managedPeer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.peers, mp.peer.ID())
	if m.stopped || mp.inbound || mp.removed {
		return true
	}

	attempt := mp.attempt + 1
	if attempt > maxReconnectAttempts {
		m.log.WithField("addr", mp.addr).Info("Giving up reconnection attempts")
		return false
	}
	if !mp.manual && m.outboundCountLocked() >= m.cfg.MaxPeers {
		return true
	}
	m.connectLocked(mp.addr, mp.manual, attempt)
	return true
}

// forgetAddress removes addr from the address book and the store.
func (m *PeerManager) forgetAddress(addr string) {
	key := addr
	if rec, ok := hostPortRecord(addr, 0); ok {
		key = rec.Host()
	}

	m.mu.Lock()
	delete(m.addrs, key)
	m.mu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.RemoveAddress(key); err != nil {
			m.log.WithError(err).Warn("Failed to remove address")
		}
	}
}

// watchedTx checks a relayed transaction against the watch filter. The
// filter learns the outpoints of matching transactions.
func (m *PeerManager) watchedTx(p *Peer, tx *btcwire.MsgTx, block *chainhash.Hash) {
	filter := m.Filter()
	if filter == nil || !filter.MatchesTx(tx) {
		p.log.WithField("tx", tx.TxHash()).Debug("Ignoring unwatched transaction")
		return
	}

	m.markSeen(tx.TxHash())
	if m.cfg.OnWatchedTx != nil {
		m.cfg.OnWatchedTx(tx, block)
	}
}

// markSeen records an inventory hash and reports whether it was new.
func (m *PeerManager) markSeen(hash chainhash.Hash) bool {
	return m.inventory.Add(hash.String(), struct{}{}, cache.DefaultExpiration) == nil
}

func (m *PeerManager) setTip(hash chainhash.Hash) {
	m.mu.Lock()
	m.tip = &hash
	m.mu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.PutTip(hash); err != nil {
			m.log.WithError(err).Warn("Failed to store chain tip")
		}
	}
}

// addAddress remembers a gossiped address, keeping the newest timestamp.
func (m *PeerManager) addAddress(rec *wire.AddressRecord) {
	key := rec.Host()

	m.mu.Lock()
	old, ok := m.addrs[key]
	if ok && !rec.Timestamp.After(old.Timestamp) {
		m.mu.Unlock()
		return
	}
	if !ok && len(m.addrs) >= maxAddresses {
		m.mu.Unlock()
		return
	}
	m.addrs[key] = rec
	m.mu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.PutAddress(rec); err != nil {
			m.log.WithError(err).Warn("Failed to store address")
		}
	}
}

// hostPortRecord builds an address record for a dialed host:port.
func hostPortRecord(addr string, services btcwire.ServiceFlag) (*wire.AddressRecord, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, false
	}
	c := Candidate{Host: host, Port: uint16(port), Services: services, Timestamp: time.Now()}
	return candidateRecord(c, uint16(port))
}
