package wire

import (
	"errors"

	btcwire "github.com/btcsuite/btcd/wire"
)

// Error definitions
var (
	ErrBadMagic        = errors.New("frame has wrong network magic")
	ErrBadChecksum     = errors.New("frame checksum mismatch")
	ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")
	ErrMalformed       = errors.New("malformed message payload")
)

const (
	// HeaderSize is the size of a frame header: magic, command, length
	// and checksum.
	HeaderSize = 24

	// CommandSize is the fixed width of the NUL padded command field.
	CommandSize = btcwire.CommandSize

	// MaxPayloadSize is the largest payload a frame may carry.
	MaxPayloadSize = btcwire.MaxMessagePayload
)

// Commands handled by the engine. Everything else still decodes as a
// Packet with a nil Message.
const (
	CmdVersion     = btcwire.CmdVersion
	CmdVerAck      = btcwire.CmdVerAck
	CmdPing        = btcwire.CmdPing
	CmdPong        = btcwire.CmdPong
	CmdInv         = btcwire.CmdInv
	CmdGetData     = btcwire.CmdGetData
	CmdNotFound    = btcwire.CmdNotFound
	CmdAddr        = btcwire.CmdAddr
	CmdGetAddr     = btcwire.CmdGetAddr
	CmdTx          = btcwire.CmdTx
	CmdBlock       = btcwire.CmdBlock
	CmdMerkleBlock = btcwire.CmdMerkleBlock
	CmdGetBlocks   = btcwire.CmdGetBlocks
	CmdHeaders     = btcwire.CmdHeaders
	CmdFilterLoad  = btcwire.CmdFilterLoad
)
