package network

import (
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
)

// pingNonce is sent with every liveness ping.
const pingNonce = 0xdeadbeefdeadbeef

// armPing schedules the next liveness ping. Pings are fire and forget;
// replies only update LastPong.
func (p *Peer) armPing() {
	p.pingTimer = time.AfterFunc(p.cfg.PingInterval, func() {
		p.post(func() {
			if p.state == StateDestroyed {
				return
			}
			p.sendMessage(btcwire.NewMsgPing(pingNonce))
			p.armPing()
		})
	})
}

func (p *Peer) handlePing(msg *btcwire.MsgPing) {
	p.sendMessage(btcwire.NewMsgPong(msg.Nonce))
}

func (p *Peer) handlePong(msg *btcwire.MsgPong) {
	p.mu.Lock()
	p.lastPong = time.Now()
	p.mu.Unlock()
}
