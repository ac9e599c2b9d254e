package network

import (
	"time"

	"uro-core/wire"
)

// Outcome is what a response callback tells the correlator to do with
// its request.
type Outcome int

const (
	// Consume completes the request and removes it from the queue.
	Consume Outcome = iota

	// Continue keeps a wildcard request at the head of the queue and
	// restarts its timeout, for replies spread over several packets.
	Continue

	// Skip leaves the request alone and offers the packet to the next
	// one in the queue.
	Skip
)

func (o Outcome) String() string {
	switch o {
	case Consume:
		return "consume"
	case Continue:
		return "continue"
	case Skip:
		return "skip"
	}
	return "unknown"
}

// ResponseFunc receives either a packet or a terminal error. On error the
// return value is ignored; the request is already gone.
type ResponseFunc func(pkt *wire.Packet, err error) Outcome

type request struct {
	command string
	fn      ResponseFunc
	timer   *time.Timer
	gen     uint64
}

// Request queues fn to receive the next packet of command. An empty
// command matches any packet the dispatcher hands to the correlator.
// Requests made while the connection is pending are queued behind the
// handshake. On a destroyed peer fn gets ErrDestroyed right away.
func (p *Peer) Request(command string, fn ResponseFunc) {
	p.post(func() {
		if p.state == StatePending {
			p.onReady = append(p.onReady, func() { p.request(command, fn) })
			return
		}
		p.request(command, fn)
	})
}

func (p *Peer) request(command string, fn ResponseFunc) {
	if p.state == StateDestroyed {
		fn(nil, ErrDestroyed)
		return
	}
	req := &request{command: command, fn: fn}
	p.armRequest(req)
	p.requests = append(p.requests, req)
}

// armRequest (re)starts the timeout of req. A timer that already fired
// for an older generation is ignored when it reaches the loop.
func (p *Peer) armRequest(req *request) {
	if req.timer != nil {
		req.timer.Stop()
	}
	req.gen++
	gen := req.gen
	req.timer = time.AfterFunc(p.cfg.RequestTimeout, func() {
		p.post(func() { p.expireRequest(req, gen) })
	})
}

func (p *Peer) expireRequest(req *request, gen uint64) {
	if p.state == StateDestroyed || req.gen != gen {
		return
	}
	if !p.removeRequest(req) {
		return
	}
	p.log.WithField("cmd", req.command).Debug("Request timed out")
	req.fn(nil, &TimeoutError{Command: req.command})
}

// removeRequest drops req from the queue and stops its timer. It reports
// whether req was still queued.
func (p *Peer) removeRequest(req *request) bool {
	for i, r := range p.requests {
		if r == req {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			req.timer.Stop()
			return true
		}
	}
	return false
}

// resolve offers pkt to the outstanding requests from the head. Matching
// never skips past a request that wants a different command. It reports
// whether a request took the packet.
func (p *Peer) resolve(pkt *wire.Packet) bool {
	for i := 0; i < len(p.requests); i++ {
		req := p.requests[i]
		if req.command != "" && req.command != pkt.Command {
			return false
		}

		switch req.fn(pkt, nil) {
		case Skip:
			continue
		case Continue:
			if req.command == "" {
				p.armRequest(req)
				return true
			}
			p.log.WithField("cmd", req.command).Warn("Continue on a command request, consuming it")
		}

		// The matched entry goes, not blindly the head.
		p.removeRequest(req)
		return true
	}
	return false
}
