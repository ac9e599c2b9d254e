package wire

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

const (
	// MaxBloomFilterSize is the maximum size of a bloom filter in bytes.
	MaxBloomFilterSize = btcwire.MaxFilterLoadFilterSize

	// MaxHashFuncs is the maximum number of hash functions.
	MaxHashFuncs = btcwire.MaxFilterLoadHashFuncs

	// BloomUpdateNone indicates no auto-update
	BloomUpdateNone = btcwire.BloomUpdateNone

	// BloomUpdateAll indicates update on all matches
	BloomUpdateAll = btcwire.BloomUpdateAll

	// BloomUpdateP2PKOnly indicates update only on P2PK/P2PKH
	BloomUpdateP2PKOnly = btcwire.BloomUpdateP2PubkeyOnly
)

// BloomFilter is the shared watch filter a relay-mode peer loads on its
// remote. The underlying filter does its own locking, so it is safe for
// concurrent use.
type BloomFilter struct {
	filter *bloom.Filter
}

// NewBloomFilter creates a new bloom filter.
func NewBloomFilter(numElements uint32, falsePositiveRate float64, tweak uint32, flags btcwire.BloomUpdateType) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewFilter(numElements, tweak, falsePositiveRate, flags),
	}
}

// Add adds data to the bloom filter.
func (bf *BloomFilter) Add(data []byte) {
	bf.filter.Add(data)
}

// AddHash adds a hash to the bloom filter.
func (bf *BloomFilter) AddHash(hash *chainhash.Hash) {
	bf.filter.AddHash(hash)
}

// Contains checks if data might be in the filter.
// Returns true if possibly in set, false if definitely not in set.
func (bf *BloomFilter) Contains(data []byte) bool {
	return bf.filter.Matches(data)
}

// MatchesTx checks if a transaction matches the filter, adding matched
// outpoints according to the filter's update flags.
func (bf *BloomFilter) MatchesTx(tx *btcwire.MsgTx) bool {
	return bf.filter.MatchTxAndUpdate(btcutil.NewTx(tx))
}

// MsgFilterLoad returns the filterload message carrying the filter.
func (bf *BloomFilter) MsgFilterLoad() *btcwire.MsgFilterLoad {
	return bf.filter.MsgFilterLoad()
}

// NewWatchFilter builds a filter holding every hex encoded element of
// watch, typically public key hashes, scripts or transaction ids. Matched
// outpoints are added as transactions arrive.
func NewWatchFilter(watch []string, falsePositiveRate float64, tweak uint32) (*BloomFilter, error) {
	if len(watch) == 0 {
		return nil, errors.New("empty watch list")
	}

	bf := NewBloomFilter(uint32(len(watch)), falsePositiveRate, tweak, BloomUpdateAll)
	for _, item := range watch {
		data, err := hex.DecodeString(item)
		if err != nil || len(data) == 0 {
			return nil, fmt.Errorf("invalid watch element %q", item)
		}
		bf.Add(data)
	}
	return bf, nil
}
