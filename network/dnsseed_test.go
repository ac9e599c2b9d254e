package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startDNS serves fixed records for seed.uro.test. on a local UDP port.
func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("seed.uro.test.", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		hdr := dns.RR_Header{Name: req.Question[0].Name, Class: dns.ClassINET, Ttl: 60}
		switch req.Question[0].Qtype {
		case dns.TypeA:
			hdr.Rrtype = dns.TypeA
			resp.Answer = append(resp.Answer,
				&dns.A{Hdr: hdr, A: net.ParseIP("10.0.0.1")},
				&dns.A{Hdr: hdr, A: net.ParseIP("10.0.0.2")})
		case dns.TypeAAAA:
			hdr.Rrtype = dns.TypeAAAA
			resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP("2001:db8::1")})
		}
		w.WriteMsg(resp)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestSeedResolver(t *testing.T) {
	r, err := NewSeedResolver(startDNS(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs, err := r.Resolve(ctx, "seed.uro.test", "36348")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:36348", "10.0.0.2:36348", "[2001:db8::1]:36348"}, addrs)

	// Unknown names resolve to nothing.
	addrs, err = r.Resolve(ctx, "other.uro.test", "36348")
	require.NoError(t, err)
	require.Empty(t, addrs)
}
