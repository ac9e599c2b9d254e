package wire

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Item is something a peer can announce with inv and serve on getdata.
type Item interface {
	InvType() btcwire.InvType
	Hash() chainhash.Hash
	Message() btcwire.Message
}

// TxItem wraps a transaction for broadcast.
type TxItem struct {
	Tx *btcwire.MsgTx
}

// NewTxItem creates a broadcastable transaction.
func NewTxItem(tx *btcwire.MsgTx) *TxItem {
	return &TxItem{Tx: tx}
}

func (i *TxItem) InvType() btcwire.InvType { return btcwire.InvTypeTx }
func (i *TxItem) Hash() chainhash.Hash     { return i.Tx.TxHash() }
func (i *TxItem) Message() btcwire.Message { return i.Tx }

// BlockItem wraps a block for broadcast.
type BlockItem struct {
	Block *btcwire.MsgBlock
}

// NewBlockItem creates a broadcastable block.
func NewBlockItem(block *btcwire.MsgBlock) *BlockItem {
	return &BlockItem{Block: block}
}

func (i *BlockItem) InvType() btcwire.InvType { return btcwire.InvTypeBlock }
func (i *BlockItem) Hash() chainhash.Hash     { return i.Block.BlockHash() }
func (i *BlockItem) Message() btcwire.Message { return i.Block }

// NewInvMsg builds an inv announcing every item.
func NewInvMsg(items []Item) *btcwire.MsgInv {
	msg := btcwire.NewMsgInvSizeHint(uint(len(items)))
	for _, item := range items {
		hash := item.Hash()
		msg.AddInvVect(btcwire.NewInvVect(item.InvType(), &hash))
	}
	return msg
}

// IsTxInv reports whether an inventory vector refers to a transaction.
func IsTxInv(iv *btcwire.InvVect) bool {
	return iv.Type == btcwire.InvTypeTx || iv.Type == btcwire.InvTypeWitnessTx
}

// IsBlockInv reports whether an inventory vector refers to a full or
// filtered block.
func IsBlockInv(iv *btcwire.InvVect) bool {
	switch iv.Type {
	case btcwire.InvTypeBlock, btcwire.InvTypeFilteredBlock, btcwire.InvTypeWitnessBlock:
		return true
	}
	return false
}
