package network

import (
	"net"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"uro-core/wire"
)

// handshake runs once the connection is ready: start probing, greet the
// remote and wait for its verack through the correlator.
func (p *Peer) handshake() {
	p.armPing()
	p.sendMessage(p.localVersion())
	p.request(wire.CmdVerAck, p.handleVerAck)
}

// localVersion builds our version message.
func (p *Peer) localVersion() *btcwire.MsgVersion {
	params := p.cfg.Params

	me := btcwire.NewNetAddressIPPort(net.IPv4zero, 0, params.Services)
	you := btcwire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	if tcp, ok := p.conn.RemoteAddr().(*net.TCPAddr); ok {
		you = btcwire.NewNetAddress(tcp, 0)
	}

	nonce, err := btcwire.RandomUint64()
	if err != nil {
		p.log.WithError(err).Warn("Failed to generate version nonce")
	}

	msg := btcwire.NewMsgVersion(me, you, nonce, p.cfg.StartHeight)
	msg.ProtocolVersion = int32(params.ProtocolVersion)
	msg.Services = params.Services
	msg.DisableRelayTx = p.cfg.Relay
	if err := msg.AddUserAgent(params.UserAgentName, params.UserAgentVersion); err != nil {
		p.log.WithError(err).Warn("Failed to set user agent")
	}
	return msg
}

// handleVersion validates the remote's greeting and acknowledges it.
func (p *Peer) handleVersion(msg *btcwire.MsgVersion) {
	if p.version != nil {
		p.log.Debug("Ignoring duplicate version message")
		return
	}

	minVersion := p.cfg.Params.MinProtocolVersion
	if msg.ProtocolVersion < int32(minVersion) {
		p.fail(&ProtocolVersionError{Version: msg.ProtocolVersion, Min: minVersion})
		return
	}

	p.sendMessage(btcwire.NewMsgVerAck())

	p.mu.Lock()
	p.version = msg
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"version":    msg.ProtocolVersion,
		"height":     msg.LastBlock,
		"services":   msg.Services,
		"user_agent": msg.UserAgent,
	}).Info("Peer version received")

	if p.cfg.Listeners.OnVersion != nil {
		p.cfg.Listeners.OnVersion(p, msg)
	}
}

// handleVerAck completes the handshake. A failure here is terminal.
func (p *Peer) handleVerAck(pkt *wire.Packet, err error) Outcome {
	if err != nil {
		p.fail(err)
		return Consume
	}

	p.mu.Lock()
	p.ack = true
	p.lastActivity = time.Now()
	p.mu.Unlock()

	p.log.Debug("Handshake acknowledged")
	if p.cfg.Listeners.OnAck != nil {
		p.cfg.Listeners.OnAck(p)
	}
	return Consume
}
