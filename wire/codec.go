package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Codec frames outbound messages and splits an inbound byte stream into
// packets. A Codec is not safe for concurrent use; the peer reader owns
// the decoding side.
type Codec struct {
	net  btcwire.BitcoinNet
	pver uint32
	buf  []byte
}

// NewCodec creates a codec for the given network magic and protocol
// version.
func NewCodec(magic uint32, pver uint32) *Codec {
	return &Codec{
		net:  btcwire.BitcoinNet(magic),
		pver: pver,
	}
}

// Encode serializes msg into a complete frame.
func (c *Codec) Encode(msg btcwire.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := btcwire.WriteMessageN(&buf, msg, c.pver, c.net); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Command(), err)
	}
	return buf.Bytes(), nil
}

// Feed appends chunk to the internal buffer and returns every complete
// packet it now holds. Partial frames stay buffered for the next call.
// After an error the buffer is discarded; the stream cannot be resynced.
func (c *Codec) Feed(chunk []byte) ([]*Packet, error) {
	c.buf = append(c.buf, chunk...)

	var packets []*Packet
	for len(c.buf) >= HeaderSize {
		magic := btcwire.BitcoinNet(binary.LittleEndian.Uint32(c.buf[0:4]))
		if magic != c.net {
			c.buf = nil
			return packets, fmt.Errorf("%w: got %v", ErrBadMagic, magic)
		}

		command := string(bytes.TrimRight(c.buf[4:4+CommandSize], "\x00"))
		length := binary.LittleEndian.Uint32(c.buf[16:20])
		if length > MaxPayloadSize {
			c.buf = nil
			return packets, fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, command, length)
		}

		total := HeaderSize + int(length)
		if len(c.buf) < total {
			break
		}

		payload := make([]byte, length)
		copy(payload, c.buf[HeaderSize:total])
		sum := chainhash.DoubleHashB(payload)
		if !bytes.Equal(sum[:4], c.buf[20:24]) {
			c.buf = nil
			return packets, fmt.Errorf("%w: %s", ErrBadChecksum, command)
		}
		c.buf = c.buf[total:]

		pkt, err := c.decode(command, payload)
		if err != nil {
			c.buf = nil
			return packets, err
		}
		packets = append(packets, pkt)
	}

	if len(c.buf) == 0 {
		c.buf = nil
	}
	return packets, nil
}

// Buffered returns the number of bytes held back waiting for the rest of
// a frame.
func (c *Codec) Buffered() int {
	return len(c.buf)
}

func (c *Codec) decode(command string, payload []byte) (*Packet, error) {
	pkt := &Packet{Command: command, Payload: payload}

	msg := makeEmptyMessage(command)
	if msg == nil {
		return pkt, nil
	}
	// MsgVersion insists on a *bytes.Buffer.
	if err := msg.BtcDecode(bytes.NewBuffer(payload), c.pver, btcwire.BaseEncoding); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, command, err)
	}
	pkt.Message = msg
	return pkt, nil
}

func makeEmptyMessage(command string) btcwire.Message {
	switch command {
	case btcwire.CmdVersion:
		return &btcwire.MsgVersion{}
	case btcwire.CmdVerAck:
		return &btcwire.MsgVerAck{}
	case btcwire.CmdPing:
		return &btcwire.MsgPing{}
	case btcwire.CmdPong:
		return &btcwire.MsgPong{}
	case btcwire.CmdInv:
		return &btcwire.MsgInv{}
	case btcwire.CmdGetData:
		return &btcwire.MsgGetData{}
	case btcwire.CmdNotFound:
		return &btcwire.MsgNotFound{}
	case btcwire.CmdAddr:
		return &btcwire.MsgAddr{}
	case btcwire.CmdGetAddr:
		return &btcwire.MsgGetAddr{}
	case btcwire.CmdTx:
		return &btcwire.MsgTx{}
	case btcwire.CmdBlock:
		return &btcwire.MsgBlock{}
	case btcwire.CmdMerkleBlock:
		return &btcwire.MsgMerkleBlock{}
	case btcwire.CmdGetBlocks:
		return &btcwire.MsgGetBlocks{}
	case btcwire.CmdGetHeaders:
		return &btcwire.MsgGetHeaders{}
	case btcwire.CmdHeaders:
		return &btcwire.MsgHeaders{}
	case btcwire.CmdMemPool:
		return &btcwire.MsgMemPool{}
	case btcwire.CmdFilterLoad:
		return &btcwire.MsgFilterLoad{}
	case btcwire.CmdFilterAdd:
		return &btcwire.MsgFilterAdd{}
	case btcwire.CmdFilterClear:
		return &btcwire.MsgFilterClear{}
	case btcwire.CmdReject:
		return &btcwire.MsgReject{}
	case btcwire.CmdSendHeaders:
		return &btcwire.MsgSendHeaders{}
	case btcwire.CmdFeeFilter:
		return &btcwire.MsgFeeFilter{}
	}
	return nil
}
