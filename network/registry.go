package network

import (
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"uro-core/wire"
)

// Candidate is a peer address the registry is willing to share on getaddr.
type Candidate struct {
	Host      string
	Port      uint16
	Services  btcwire.ServiceFlag
	Timestamp time.Time
}

// Registry is what a peer needs from the pool that owns it.
type Registry interface {
	// Candidates returns addresses to answer getaddr with.
	Candidates() []Candidate

	// ChainTip returns the best known block hash, used as the block
	// locator when the peer has not seen a block yet.
	ChainTip() (chainhash.Hash, error)

	// Filter returns the shared watch filter, or nil if there is none.
	Filter() *wire.BloomFilter
}

// ConnFactory establishes the connection of a peer. It is called once,
// off the caller's goroutine.
type ConnFactory func() (net.Conn, error)
