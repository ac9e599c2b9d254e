package network

import (
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"uro-core/chaincfg"
	"uro-core/wire"
)

// Engine defaults
const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultBroadcastTimeout  = 30 * time.Second
	DefaultBroadcastInterval = 3 * time.Second
	DefaultPingInterval      = 30 * time.Second
)

// Listeners are the upward notifications of a peer. All of them run on
// the peer's event loop, so they must not block; calling back into the
// peer from a listener is fine since every public method only enqueues.
type Listeners struct {
	OnReady   func(p *Peer)
	OnClose   func(p *Peer)
	OnError   func(p *Peer, err error)
	OnVersion func(p *Peer, msg *btcwire.MsgVersion)
	OnAck     func(p *Peer)
	OnBlocks  func(p *Peer, hashes []*chainhash.Hash)
	OnTxs     func(p *Peer, hashes []*chainhash.Hash)
	OnAddr    func(p *Peer, rec *wire.AddressRecord)

	// OnPacket receives every packet that is neither protocol machinery
	// nor claimed by an outstanding request.
	OnPacket func(p *Peer, pkt *wire.Packet)
}

// Config holds the settings of a single peer.
type Config struct {
	Params *chaincfg.Params
	Logger *logrus.Logger

	RequestTimeout    time.Duration
	BroadcastTimeout  time.Duration
	BroadcastInterval time.Duration
	PingInterval      time.Duration

	// Backoff delays connection establishment. Zero dials immediately.
	Backoff time.Duration

	// Relay selects filtered relay: the remote is asked to hold back
	// transactions until it has our watch filter, and inv only triggers
	// getdata for transactions.
	Relay       bool
	StartHeight int32

	Listeners Listeners
}

// ConfigOptionFunc is a function that modifies a Config.
type ConfigOptionFunc func(*Config)

// NewConfig creates a new Config with default values, applying any provided
// option functions.
func NewConfig(options ...ConfigOptionFunc) Config {
	c := Config{
		Params:            &chaincfg.MainNetParams,
		RequestTimeout:    DefaultRequestTimeout,
		BroadcastTimeout:  DefaultBroadcastTimeout,
		BroadcastInterval: DefaultBroadcastInterval,
		PingInterval:      DefaultPingInterval,
	}
	for _, option := range options {
		option(&c)
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
		c.Logger.SetOutput(io.Discard)
	}
	return c
}

// WithParams sets the network parameters.
func WithParams(params *chaincfg.Params) ConfigOptionFunc {
	return func(c *Config) {
		c.Params = params
	}
}

// WithLogger sets the logger peers write to.
func WithLogger(logger *logrus.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRequestTimeout sets how long a request waits for its response.
func WithRequestTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

// WithBroadcastTimeout sets how long an announced item waits to be
// requested.
func WithBroadcastTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.BroadcastTimeout = timeout
	}
}

// WithBroadcastInterval sets the announcement retransmit interval.
func WithBroadcastInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.BroadcastInterval = interval
	}
}

// WithPingInterval sets the interval between liveness pings.
func WithPingInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.PingInterval = interval
	}
}

// WithBackoff delays connection establishment.
func WithBackoff(backoff time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.Backoff = backoff
	}
}

// WithRelay enables filtered relay mode.
func WithRelay(relay bool) ConfigOptionFunc {
	return func(c *Config) {
		c.Relay = relay
	}
}

// WithStartHeight sets the chain height advertised in our version message.
func WithStartHeight(height int32) ConfigOptionFunc {
	return func(c *Config) {
		c.StartHeight = height
	}
}

// WithListeners sets the upward notifications.
func WithListeners(listeners Listeners) ConfigOptionFunc {
	return func(c *Config) {
		c.Listeners = listeners
	}
}
