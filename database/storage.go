package database

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"uro-core/wire"
)

const (
	defaultDbFile   = "uro.db"
	addressesBucket = "addresses"
	chainBucket     = "chain"
)

var tipKey = []byte("tip")

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("not found")

// addressEntry is the stored form of a gossiped address.
type addressEntry struct {
	Host      string `msgpack:"host"`
	Port      uint16 `msgpack:"port"`
	Services  uint64 `msgpack:"services"`
	Timestamp int64  `msgpack:"ts"`
}

type tipEntry struct {
	Hash    []byte `msgpack:"hash"`
	Updated int64  `msgpack:"updated"`
}

// Storage is the node's address book and chain tip store.
type Storage struct {
	db *bbolt.DB
}

// NewStorage opens or creates the database under dataDir.
func NewStorage(dataDir string) (*Storage, error) {
	if dataDir == "" {
		dataDir = "."
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbFile := filepath.Join(dataDir, defaultDbFile)
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{addressesBucket, chainBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// addressKey keys an address by its dialable host:port.
func addressKey(host string) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, xxhash.Sum64String(host))
	return key
}

// PutAddress stores or refreshes an address.
func (s *Storage) PutAddress(rec *wire.AddressRecord) error {
	entry := addressEntry{
		Host:      rec.IP().String(),
		Port:      rec.Port,
		Services:  uint64(rec.Services),
		Timestamp: rec.Timestamp.Unix(),
	}
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode address %s: %w", rec.Host(), err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(addressesBucket)).Put(addressKey(rec.Host()), data)
	})
}

// RemoveAddress forgets the address with the given host:port.
func (s *Storage) RemoveAddress(host string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(addressesBucket)).Delete(addressKey(host))
	})
}

// Addresses returns up to limit stored addresses. A limit of zero or less
// returns all of them.
func (s *Storage) Addresses(limit int) ([]*wire.AddressRecord, error) {
	var records []*wire.AddressRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(addressesBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var entry addressEntry
			if err := msgpack.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to decode address %x: %w", k, err)
			}
			ip := net.ParseIP(entry.Host)
			if ip == nil {
				continue
			}
			records = append(records, wire.NewAddressRecord(&btcwire.NetAddress{
				Timestamp: time.Unix(entry.Timestamp, 0),
				Services:  btcwire.ServiceFlag(entry.Services),
				IP:        ip,
				Port:      entry.Port,
			}))
		}
		return nil
	})

	return records, err
}

// AddressCount returns the number of stored addresses.
func (s *Storage) AddressCount() int {
	var n int
	s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(addressesBucket)).Stats().KeyN
		return nil
	})
	return n
}

// PutTip records the most recent block announced to us.
func (s *Storage) PutTip(hash chainhash.Hash) error {
	data, err := msgpack.Marshal(&tipEntry{Hash: hash[:], Updated: time.Now().Unix()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(chainBucket)).Put(tipKey, data)
	})
}

// Tip returns the stored chain tip, or ErrNotFound.
func (s *Storage) Tip() (chainhash.Hash, error) {
	var tip chainhash.Hash

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(chainBucket)).Get(tipKey)
		if data == nil {
			return ErrNotFound
		}
		var entry tipEntry
		if err := msgpack.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to decode chain tip: %w", err)
		}
		return tip.SetBytes(entry.Hash)
	})

	return tip, err
}
