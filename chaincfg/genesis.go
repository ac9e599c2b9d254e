package chaincfg

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// genesisMerkleRoot is the merkle root of the main net genesis block.
var genesisMerkleRoot = mustHash("cf112b0792eaf749de18d633d3545aecd7b1343d78e14a830a242a03a6c31339")

// GenesisBlock defines the first block of the chain. Peers only need the
// header; a fresh node uses its hash as the block locator until it has
// seen anything newer.
var GenesisBlock = btcwire.MsgBlock{
	Header: btcwire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1398093006, 0),
		Bits:       0x1e0ffff0,
		Nonce:      307242,
	},
}

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

func init() {
	hash := GenesisBlock.BlockHash()
	MainNetParams.GenesisBlock = &GenesisBlock
	MainNetParams.GenesisHash = &hash
	RegressionNetParams.GenesisBlock = &GenesisBlock
	RegressionNetParams.GenesisHash = &hash
}
