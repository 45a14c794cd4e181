// Package diag implements the connectivity test: resolution,
// allow-set membership, and reachability are checked independently and
// reported as separate outcomes.
package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// DefaultTimeout bounds the reachability probe.
const DefaultTimeout = 10 * time.Second

// Resolver is the lookup dependency.
type Resolver interface {
	Lookup(ctx context.Context, domain string) ([]net.IP, error)
}

// Membership answers allow-set containment questions.
type Membership interface {
	Contains(addr net.IP) (bool, error)
}

// CheckResult is the outcome of one independent check.
type CheckResult struct {
	OK     bool
	Detail string
}

// AddressResult reports allow-set membership for one resolved address.
type AddressResult struct {
	Address    string
	InAllowSet bool
	Checked    bool
}

// Report carries the outcomes for one domain. The checks never fold
// into a single verdict; each stands on its own.
type Report struct {
	Domain       string
	Resolution   CheckResult
	Addresses    []AddressResult
	Reachability *CheckResult
	Ping         *CheckResult
}

// Tester runs the checks with injected collaborators. allowSet may be
// nil when the firewall is not installed; membership is then reported
// as unchecked.
type Tester struct {
	resolver Resolver
	allowSet Membership
	timeout  time.Duration
}

// New creates a Tester. A non-positive timeout falls back to
// DefaultTimeout.
func New(resolver Resolver, allowSet Membership, timeout time.Duration) *Tester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tester{
		resolver: resolver,
		allowSet: allowSet,
		timeout:  timeout,
	}
}

// Run checks one domain. Resolution failure ends the run; membership
// and reachability are only attempted for resolvable domains.
func (t *Tester) Run(ctx context.Context, domain string, withPing bool) *Report {
	rep := &Report{Domain: domain}

	ips, err := t.resolver.Lookup(ctx, domain)
	if err != nil {
		rep.Resolution = CheckResult{OK: false, Detail: err.Error()}
		return rep
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	rep.Resolution = CheckResult{OK: true, Detail: strings.Join(addrs, ", ")}

	for _, ip := range ips {
		ar := AddressResult{Address: ip.String()}
		if t.allowSet != nil {
			ok, err := t.allowSet.Contains(ip)
			if err == nil {
				ar.InAllowSet = ok
				ar.Checked = true
			}
		}
		rep.Addresses = append(rep.Addresses, ar)
	}

	probe := probeHTTPS(ctx, domain, t.timeout)
	rep.Reachability = &probe

	if withPing && len(ips) > 0 {
		ping := pingAddress(ips[0].String(), t.timeout)
		rep.Ping = &ping
	}

	return rep
}

// probeHTTPS attempts a HEAD request over the secure transport port.
// Any HTTP response means the path is open; the status code does not
// matter. Overridable for tests.
var probeHTTPS = func(ctx context.Context, domain string, timeout time.Duration) CheckResult {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+domain+"/", nil)
	if err != nil {
		return CheckResult{OK: false, Detail: err.Error()}
	}

	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{OK: false, Detail: err.Error()}
	}
	resp.Body.Close()

	return CheckResult{OK: true, Detail: resp.Status}
}

// pingAddress sends a single unprivileged ICMP echo. Overridable for
// tests.
var pingAddress = func(addr string, timeout time.Duration) CheckResult {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return CheckResult{OK: false, Detail: fmt.Sprintf("failed to create pinger: %v", err)}
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return CheckResult{OK: false, Detail: err.Error()}
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return CheckResult{OK: false, Detail: "packet loss"}
	}
	return CheckResult{OK: true, Detail: fmt.Sprintf("rtt %s", stats.AvgRtt)}
}
