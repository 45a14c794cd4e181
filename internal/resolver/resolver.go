// Package resolver turns allowlisted domains into their current IPv4
// addresses by querying upstream nameservers directly.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const resolvConfPath = "/etc/resolv.conf"

// fallbackServers are used when no nameservers are configured and the
// host resolver configuration cannot be read.
var fallbackServers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// Resolver answers A-record queries against a fixed list of upstream
// nameservers, trying each in order until one responds.
type Resolver struct {
	servers []string
	timeout time.Duration
}

// New builds a Resolver. When servers is empty the nameservers from
// /etc/resolv.conf are used, with well-known public resolvers as a
// last resort. Addresses without a port get :53 appended.
func New(servers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if len(servers) == 0 {
		servers = systemServers()
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		normalized = append(normalized, withPort(s))
	}
	return &Resolver{servers: normalized, timeout: timeout}
}

// Servers returns the upstream addresses queries are sent to.
func (r *Resolver) Servers() []string {
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}

// Lookup resolves domain to its current IPv4 addresses. NXDOMAIN,
// timeouts, and empty answers all come back as errors; callers treat
// them as per-domain warnings rather than aborting a whole cycle.
func (r *Resolver) Lookup(ctx context.Context, domain string) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, err := r.exchange(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("%s: query %s: %w", domain, server, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s from %s", domain, dns.RcodeToString[resp.Rcode], server)
			continue
		}
		addrs := collectA(resp)
		if len(addrs) == 0 {
			lastErr = fmt.Errorf("%s: no A records", domain)
			continue
		}
		return addrs, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no nameservers available", domain)
	}
	return nil, lastErr
}

// exchange sends the query over UDP and retries over TCP when the
// response comes back truncated.
func (r *Resolver) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	c := new(dns.Client)
	c.Timeout = r.timeout

	c.Net = "udp"
	resp, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		c.Net = "tcp"
		resp, _, err = c.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// collectA pulls the IPv4 addresses out of an answer section,
// de-duplicated in arrival order. CNAME indirection is already
// flattened by the upstream resolver.
func collectA(resp *dns.Msg) []net.IP {
	var addrs []net.IP
	seen := make(map[string]bool)
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip := a.A.To4()
		if ip == nil || seen[ip.String()] {
			continue
		}
		seen[ip.String()] = true
		addrs = append(addrs, ip)
	}
	return addrs
}

// systemServers reads the nameserver list from the host resolver
// configuration.
func systemServers() []string {
	conf, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(conf.Servers) == 0 {
		return fallbackServers
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

func withPort(addr string) string {
	if !strings.Contains(addr, ":") {
		addr = addr + ":53"
	}
	return addr
}
