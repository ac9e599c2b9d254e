package wire

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Packet is one decoded frame.
type Packet struct {
	Command string
	Payload []byte

	// Message is nil for commands the codec has no message type for.
	Message btcwire.Message

	// Block is set on tx packets to the hash of the block or merkle block
	// seen just before them on the same connection.
	Block *chainhash.Hash
}

// BlockHash returns the hash of a block or merkle block packet.
func (p *Packet) BlockHash() (chainhash.Hash, bool) {
	switch msg := p.Message.(type) {
	case *btcwire.MsgBlock:
		return msg.BlockHash(), true
	case *btcwire.MsgMerkleBlock:
		return msg.Header.BlockHash(), true
	}
	return chainhash.Hash{}, false
}
