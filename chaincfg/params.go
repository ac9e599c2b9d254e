package chaincfg

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Params defines a network configuration.
type Params struct {
	Name        string
	Net         uint32
	DefaultPort string
	DNSSeeds    []string
	FixedSeeds  []string

	// Protocol negotiation
	ProtocolVersion    uint32
	MinProtocolVersion uint32
	Services           btcwire.ServiceFlag
	UserAgentName      string
	UserAgentVersion   string

	// AddressVersion is the base58 version byte of pay-to-pubkey-hash
	// addresses on this network.
	AddressVersion byte

	GenesisBlock *btcwire.MsgBlock
	GenesisHash  *chainhash.Hash

	// Tor configuration
	TorEnabled    bool
	TorProxyAddr  string
	TorOnionSeeds []string
}

// MainNetParams are the parameters of the Uro main network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         0xdeb9c3fe, // fe c3 b9 de on the wire
	DefaultPort: "36348",
	DNSSeeds:    []string{},

	// Long-lived nodes known to serve the network.
	FixedSeeds: []string{
		"128.199.204.45:36348",
		"148.251.70.194:36348",
		"144.76.238.2:36348",
		"62.210.141.204:36348",
		"162.243.193.232:36348",
		"23.226.228.25:36348",
		"192.99.3.15:36348",
		"188.226.239.21:36348",
	},

	ProtocolVersion:    70013,
	MinProtocolVersion: 70012,
	Services:           btcwire.SFNodeNetwork,
	UserAgentName:      "uro-core",
	UserAgentVersion:   "0.1.0",

	AddressVersion: 68,

	// Tor Configuration
	TorEnabled:    false,            // Disabled by default
	TorProxyAddr:  "127.0.0.1:9050", // Default Tor SOCKS5 proxy
	TorOnionSeeds: []string{},
}

// RegressionNetParams describe a private network for local testing. It
// shares the protocol versions of main net but uses its own magic and port
// so that test nodes never talk to real peers.
var RegressionNetParams = Params{
	Name:               "regtest",
	Net:                0xdab5bffa,
	DefaultPort:        "46348",
	ProtocolVersion:    70013,
	MinProtocolVersion: 70012,
	Services:           btcwire.SFNodeNetwork,
	UserAgentName:      "uro-core",
	UserAgentVersion:   "0.1.0",
	AddressVersion:     111,
	TorProxyAddr:       "127.0.0.1:9050",
}

// ParamsForNetwork returns the parameters registered under name.
func ParamsForNetwork(name string) (*Params, bool) {
	switch name {
	case MainNetParams.Name:
		return &MainNetParams, true
	case RegressionNetParams.Name:
		return &RegressionNetParams, true
	}
	return nil, false
}
