package network

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"uro-core/wire"
)

// Address timestamps at or before addrTimeFloor, or further than
// addrMaxFuture ahead of us, are replaced with addrPenaltyAge ago.
const (
	addrTimeFloor  = 100000000
	addrMaxFuture  = 10 * time.Minute
	addrPenaltyAge = 5 * 24 * time.Hour
)

// handlePacket dispatches one inbound packet. Protocol machinery always
// goes to its handler; everything else is offered to the outstanding
// requests and then surfaced through OnPacket.
func (p *Peer) handlePacket(pkt *wire.Packet) {
	if p.state == StateDestroyed {
		return
	}

	switch msg := pkt.Message.(type) {
	case *btcwire.MsgVersion:
		p.handleVersion(msg)
		return
	case *btcwire.MsgInv:
		p.handleInv(msg)
		return
	case *btcwire.MsgGetData:
		p.handleGetData(msg)
		return
	case *btcwire.MsgAddr:
		p.handleAddr(msg)
		return
	case *btcwire.MsgPing:
		p.handlePing(msg)
		return
	case *btcwire.MsgPong:
		p.handlePong(msg)
		return
	case *btcwire.MsgGetAddr:
		p.handleGetAddr()
		return
	}

	if hash, ok := pkt.BlockHash(); ok {
		p.lastBlock = &hash
	} else if pkt.Command == wire.CmdTx {
		pkt.Block = p.lastBlock
	}

	if p.resolve(pkt) {
		return
	}
	if p.cfg.Listeners.OnPacket != nil {
		p.cfg.Listeners.OnPacket(p, pkt)
	}
}

// handleInv surfaces announced blocks and transactions and fetches what
// this session should download itself.
func (p *Peer) handleInv(msg *btcwire.MsgInv) {
	var blocks, txs []*chainhash.Hash
	var txInv []*btcwire.InvVect
	for _, iv := range msg.InvList {
		hash := iv.Hash
		switch {
		case wire.IsTxInv(iv):
			txs = append(txs, &hash)
			txInv = append(txInv, iv)
		case wire.IsBlockInv(iv):
			blocks = append(blocks, &hash)
		}
	}

	if p.cfg.Listeners.OnBlocks != nil {
		p.cfg.Listeners.OnBlocks(p, blocks)
	}

	if !p.cfg.Relay {
		if len(txs) > 0 && p.cfg.Listeners.OnTxs != nil {
			p.cfg.Listeners.OnTxs(p, txs)
		}
		p.getData(msg.InvList)
		return
	}

	if len(txs) == 0 {
		return
	}
	if p.cfg.Listeners.OnTxs != nil {
		p.cfg.Listeners.OnTxs(p, txs)
	}
	p.getData(txInv)
}

// handleGetData serves items we announced ourselves.
func (p *Peer) handleGetData(msg *btcwire.MsgGetData) {
	for _, iv := range msg.InvList {
		p.serveBroadcast(iv.Hash)
	}
}

// handleAddr normalizes gossiped addresses and surfaces them one by one.
func (p *Peer) handleAddr(msg *btcwire.MsgAddr) {
	now := time.Now()
	for _, na := range msg.AddrList {
		rec := wire.NewAddressRecord(na)
		rec.Timestamp = normalizeAddrTime(na.Timestamp, now)
		if p.cfg.Listeners.OnAddr != nil {
			p.cfg.Listeners.OnAddr(p, rec)
		}
	}
}

// normalizeAddrTime replaces implausible gossip timestamps the way
// bitcoind does.
func normalizeAddrTime(ts, now time.Time) time.Time {
	if ts.Unix() <= addrTimeFloor || ts.After(now.Add(addrMaxFuture)) {
		return now.Add(-addrPenaltyAge).Truncate(time.Second)
	}
	return ts
}

// handleGetAddr answers with the registry's candidates.
func (p *Peer) handleGetAddr() {
	defaultPort := p.defaultPort()
	seen := make(map[string]struct{})
	msg := btcwire.NewMsgAddr()

	for _, c := range p.registry.Candidates() {
		if c.Host == "" {
			continue
		}
		if _, ok := seen[c.Host]; ok {
			continue
		}
		seen[c.Host] = struct{}{}

		rec, ok := candidateRecord(c, defaultPort)
		if !ok {
			continue
		}
		if err := msg.AddAddress(rec.NetAddress()); err != nil {
			break
		}
	}

	p.sendMessage(msg)
}

// candidateRecord turns a registry candidate into an address record with
// a placeholder for the family it does not use. Hosts that are not IP
// literals, and IPv6 literals that still have more than eight groups after
// left padding, are rejected.
func candidateRecord(c Candidate, defaultPort uint16) (*wire.AddressRecord, bool) {
	ip := net.ParseIP(c.Host)
	if ip == nil {
		return nil, false
	}

	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	rec := &wire.AddressRecord{
		Timestamp: c.Timestamp,
		Services:  c.Services,
		Port:      port,
	}

	// IPv4-mapped IPv6 hosts are advertised as plain IPv4.
	if v4 := ip.To4(); v4 != nil {
		rec.IPv4 = v4
		rec.IPv6 = wire.PlaceholderIPv6
		return rec, true
	}

	groups := strings.Split(c.Host, ":")
	for len(groups) < 8 {
		groups = append([]string{"0000"}, groups...)
	}
	if len(groups) > 8 {
		return nil, false
	}
	rec.IPv4 = wire.PlaceholderIPv4
	rec.IPv6 = ip.To16()
	return rec, true
}

func (p *Peer) defaultPort() uint16 {
	port, err := strconv.ParseUint(p.cfg.Params.DefaultPort, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

// GetData asks the remote for the given inventory.
func (p *Peer) GetData(items []*btcwire.InvVect) {
	p.post(func() { p.getData(items) })
}

func (p *Peer) getData(items []*btcwire.InvVect) {
	if len(items) == 0 {
		return
	}
	msg := btcwire.NewMsgGetDataSizeHint(uint(len(items)))
	for _, iv := range items {
		if err := msg.AddInvVect(iv); err != nil {
			p.log.WithError(err).Warn("Truncating getdata")
			break
		}
	}
	p.sendMessage(msg)
}

// LoadBlocks asks for the block inventory following locator, up to stop.
// A nil stop means up to the remote's tip.
func (p *Peer) LoadBlocks(locator []*chainhash.Hash, stop *chainhash.Hash) {
	p.post(func() { p.loadBlocks(locator, stop) })
}

func (p *Peer) loadBlocks(locator []*chainhash.Hash, stop *chainhash.Hash) {
	if stop == nil {
		stop = &chainhash.Hash{}
	}
	msg := btcwire.NewMsgGetBlocks(stop)
	msg.ProtocolVersion = p.cfg.Params.ProtocolVersion
	for _, hash := range locator {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			p.log.WithError(err).Warn("Truncating block locator")
			break
		}
	}
	p.sendMessage(msg)
}

// UpdateWatch refreshes what the remote sends us once the handshake is
// done. Without relay it asks for blocks after the last one seen, falling
// back to the registry's chain tip. With relay it loads the registry's
// watch filter on the remote.
func (p *Peer) UpdateWatch() {
	p.post(p.updateWatch)
}

func (p *Peer) updateWatch() {
	if p.state != StateConnected || !p.ack {
		return
	}

	if !p.cfg.Relay {
		if p.lastBlock != nil {
			p.loadBlocks([]*chainhash.Hash{p.lastBlock}, nil)
			return
		}
		tip, err := p.registry.ChainTip()
		if err != nil {
			p.log.WithError(err).Warn("Failed to look up chain tip")
			return
		}
		p.loadBlocks([]*chainhash.Hash{&tip}, nil)
		return
	}

	filter := p.registry.Filter()
	if filter == nil {
		return
	}
	p.sendMessage(filter.MsgFilterLoad())
}
