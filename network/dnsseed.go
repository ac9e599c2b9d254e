package network

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// SeedResolver looks up seed host names with direct DNS queries, so seed
// resolution does not depend on the system resolver being reachable
// through the proxy the peers use.
type SeedResolver struct {
	server string
	client *dns.Client
}

// NewSeedResolver queries server, a host:port. An empty server uses the
// first name server of /etc/resolv.conf.
func NewSeedResolver(server string) (*SeedResolver, error) {
	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", resolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no name server in %s", resolvConf)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &SeedResolver{server: server, client: &dns.Client{}}, nil
}

// Resolve returns host:port addresses for every A and AAAA record of seed.
func (r *SeedResolver) Resolve(ctx context.Context, seed, port string) ([]string, error) {
	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(seed), qtype)
		msg.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			return addrs, fmt.Errorf("query %s for %s: %w", dns.TypeToString[qtype], seed, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				addrs = append(addrs, net.JoinHostPort(rr.A.String(), port))
			case *dns.AAAA:
				addrs = append(addrs, net.JoinHostPort(rr.AAAA.String(), port))
			}
		}
	}
	return addrs, nil
}
