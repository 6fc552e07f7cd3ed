package proxychain

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// DnsResolver resolves a hostname to its IPv4 addresses. SOCKS4 has no
// domain-name support (spec.md §4.10), so socks4Connect must resolve
// the target itself before the handshake; DnsResolver is the
// pluggable seam that resolution runs behind.
type DnsResolver interface {
	ResolveIPv4(ctx context.Context, host string) ([]net.IP, error)
}

// defaultDnsResolver issues a direct A-record query via
// github.com/miekg/dns against the nameservers in /etc/resolv.conf,
// the same low-level query/exchange shape the bassosimone-nop DNS
// transports build on (dnsoverudp.go) rather than shelling out to
// net.Resolver's cgo/system path.
type defaultDnsResolver struct {
	client *dns.Client
}

// NewDefaultDnsResolver builds a DnsResolver backed by miekg/dns.
func NewDefaultDnsResolver() DnsResolver {
	return &defaultDnsResolver{client: new(dns.Client)}
}

func (r *defaultDnsResolver) ResolveIPv4(ctx context.Context, host string) ([]net.IP, error) {
	servers, err := resolvConfServers()
	if err != nil || len(servers) == 0 {
		return nil, fmt.Errorf("no nameservers available: %w", err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range servers {
		reply, _, err := r.client.ExchangeContext(ctx, msg, net.JoinHostPort(server, "53"))
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("nameserver %s returned %s", server, dns.RcodeToString[reply.Rcode])
			continue
		}
		var ips []net.IP
		for _, rr := range reply.Answer {
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A)
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no A record found for %s", host)
		}
		return ips, nil
	}
	return nil, fmt.Errorf("all nameservers failed: %w", lastErr)
}

func resolvConfServers() ([]string, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	return cfg.Servers, nil
}
