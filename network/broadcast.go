package network

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"uro-core/wire"
)

// BroadcastOutcome is the terminal state of an announced item.
type BroadcastOutcome int

const (
	// BroadcastRequested means the remote asked for the item and was
	// sent its payload.
	BroadcastRequested BroadcastOutcome = iota + 1

	// BroadcastTimedOut means nobody asked before the broadcast timeout.
	BroadcastTimedOut

	// BroadcastReplaced means a later announcement of the same hash took
	// over.
	BroadcastReplaced

	// BroadcastAborted means the peer was destroyed first.
	BroadcastAborted
)

func (o BroadcastOutcome) String() string {
	switch o {
	case BroadcastRequested:
		return "requested"
	case BroadcastTimedOut:
		return "timed out"
	case BroadcastReplaced:
		return "replaced"
	case BroadcastAborted:
		return "aborted"
	}
	return "unknown"
}

// Broadcast is the observer handle of one announced item. Exactly one
// outcome is delivered, after which the channel is closed.
type Broadcast struct {
	hash    chainhash.Hash
	outcome chan BroadcastOutcome
}

func newBroadcast(hash chainhash.Hash) *Broadcast {
	return &Broadcast{hash: hash, outcome: make(chan BroadcastOutcome, 1)}
}

// Hash returns the hash of the announced item.
func (b *Broadcast) Hash() chainhash.Hash {
	return b.hash
}

// Outcome returns the channel the terminal outcome arrives on.
func (b *Broadcast) Outcome() <-chan BroadcastOutcome {
	return b.outcome
}

func (b *Broadcast) finish(o BroadcastOutcome) {
	b.outcome <- o
	close(b.outcome)
}

type broadcastEntry struct {
	hash       chainhash.Hash
	handle     *Broadcast
	payload    []byte // encoded item frame, served on getdata
	inv        []byte // encoded single item inv, retransmitted
	retransmit *time.Timer
	expiry     *time.Timer
}

func (e *broadcastEntry) stop() {
	if e.retransmit != nil {
		e.retransmit.Stop()
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
}

// Broadcast announces items to the remote with one combined inv, then
// re-announces each on every broadcast interval until the remote requests
// it or the broadcast timeout passes. One handle per item is returned in
// order. Announcing a hash that is still pending replaces the old entry.
func (p *Peer) Broadcast(items ...wire.Item) ([]*Broadcast, error) {
	entries := make([]*broadcastEntry, 0, len(items))
	handles := make([]*Broadcast, 0, len(items))
	for _, item := range items {
		hash := item.Hash()
		payload, err := p.codec.Encode(item.Message())
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", hash, err)
		}
		inv, err := p.codec.Encode(wire.NewInvMsg([]wire.Item{item}))
		if err != nil {
			return nil, fmt.Errorf("failed to encode inv for %s: %w", hash, err)
		}
		entry := &broadcastEntry{
			hash:    hash,
			handle:  newBroadcast(hash),
			payload: payload,
			inv:     inv,
		}
		entries = append(entries, entry)
		handles = append(handles, entry.handle)
	}
	announce := wire.NewInvMsg(items)

	p.post(func() {
		if p.state == StatePending {
			p.onReady = append(p.onReady, func() { p.broadcast(entries, announce) })
			return
		}
		p.broadcast(entries, announce)
	})
	return handles, nil
}

func (p *Peer) broadcast(entries []*broadcastEntry, announce *btcwire.MsgInv) {
	if p.state == StateDestroyed {
		for _, entry := range entries {
			entry.handle.finish(BroadcastAborted)
		}
		return
	}

	for _, entry := range entries {
		if old, ok := p.broadcasts[entry.hash]; ok {
			old.stop()
			old.handle.finish(BroadcastReplaced)
		}
		p.broadcasts[entry.hash] = entry
		p.armRetransmit(entry)
		entry.expiry = time.AfterFunc(p.cfg.BroadcastTimeout, func() {
			p.post(func() { p.expireBroadcast(entry) })
		})
	}
	p.sendMessage(announce)
}

// armRetransmit schedules the next re-announcement of entry. Each firing
// reschedules itself while the entry is still the live one for its hash.
func (p *Peer) armRetransmit(entry *broadcastEntry) {
	entry.retransmit = time.AfterFunc(p.cfg.BroadcastInterval, func() {
		p.post(func() {
			if p.state == StateDestroyed || p.broadcasts[entry.hash] != entry {
				return
			}
			p.write(entry.inv)
			p.armRetransmit(entry)
		})
	})
}

func (p *Peer) expireBroadcast(entry *broadcastEntry) {
	if p.state == StateDestroyed || p.broadcasts[entry.hash] != entry {
		return
	}
	entry.stop()
	delete(p.broadcasts, entry.hash)
	p.log.WithField("hash", entry.hash).Debug("Broadcast timed out")
	entry.handle.finish(BroadcastTimedOut)
}

// serveBroadcast answers a getdata for a self-announced item. Hashes we
// never announced are ignored.
func (p *Peer) serveBroadcast(hash chainhash.Hash) {
	entry, ok := p.broadcasts[hash]
	if !ok {
		return
	}
	p.write(entry.payload)
	entry.stop()
	delete(p.broadcasts, hash)
	entry.handle.finish(BroadcastRequested)
}
