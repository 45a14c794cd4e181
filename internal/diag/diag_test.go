package diag

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

type fakeResolver struct {
	ips []net.IP
	err error
}

func (f *fakeResolver) Lookup(ctx context.Context, domain string) ([]net.IP, error) {
	return f.ips, f.err
}

type fakeMembership struct {
	members map[string]bool
	err     error
}

func (f *fakeMembership) Contains(addr net.IP) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[addr.String()], nil
}

func stubProbe(t *testing.T, result CheckResult) *string {
	t.Helper()
	var probed string
	orig := probeHTTPS
	probeHTTPS = func(ctx context.Context, domain string, timeout time.Duration) CheckResult {
		probed = domain
		return result
	}
	t.Cleanup(func() { probeHTTPS = orig })
	return &probed
}

func stubPing(t *testing.T, result CheckResult) *string {
	t.Helper()
	var pinged string
	orig := pingAddress
	pingAddress = func(addr string, timeout time.Duration) CheckResult {
		pinged = addr
		return result
	}
	t.Cleanup(func() { pingAddress = orig })
	return &pinged
}

func TestRun(t *testing.T) {
	probed := stubProbe(t, CheckResult{OK: true, Detail: "200 OK"})

	resolver := &fakeResolver{ips: []net.IP{
		net.ParseIP("140.82.121.3"),
		net.ParseIP("140.82.121.4"),
	}}
	members := &fakeMembership{members: map[string]bool{"140.82.121.3": true}}

	rep := New(resolver, members, time.Second).Run(context.Background(), "github.com", false)

	if !rep.Resolution.OK {
		t.Fatalf("resolution failed: %s", rep.Resolution.Detail)
	}
	if rep.Resolution.Detail != "140.82.121.3, 140.82.121.4" {
		t.Errorf("unexpected resolution detail %q", rep.Resolution.Detail)
	}
	if len(rep.Addresses) != 2 {
		t.Fatalf("expected 2 address results, got %d", len(rep.Addresses))
	}
	if !rep.Addresses[0].Checked || !rep.Addresses[0].InAllowSet {
		t.Errorf("expected first address in allow set, got %+v", rep.Addresses[0])
	}
	if !rep.Addresses[1].Checked || rep.Addresses[1].InAllowSet {
		t.Errorf("expected second address outside allow set, got %+v", rep.Addresses[1])
	}
	if rep.Reachability == nil || !rep.Reachability.OK {
		t.Errorf("expected reachability success, got %+v", rep.Reachability)
	}
	if *probed != "github.com" {
		t.Errorf("probed %q, want github.com", *probed)
	}
	if rep.Ping != nil {
		t.Errorf("unexpected ping result without ping flag")
	}
}

func TestRun_ResolutionFailureStopsEarly(t *testing.T) {
	probed := stubProbe(t, CheckResult{OK: true})

	resolver := &fakeResolver{err: fmt.Errorf("no.such.host: NXDOMAIN from 127.0.0.1:53")}
	rep := New(resolver, nil, time.Second).Run(context.Background(), "no.such.host", false)

	if rep.Resolution.OK {
		t.Fatal("expected resolution failure")
	}
	if len(rep.Addresses) != 0 {
		t.Errorf("expected no address results, got %d", len(rep.Addresses))
	}
	if rep.Reachability != nil {
		t.Error("reachability should not be probed when resolution fails")
	}
	if *probed != "" {
		t.Errorf("probe ran against %q", *probed)
	}
}

func TestRun_WithoutAllowSet(t *testing.T) {
	stubProbe(t, CheckResult{OK: true})

	resolver := &fakeResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}}
	rep := New(resolver, nil, time.Second).Run(context.Background(), "internal.host", false)

	if len(rep.Addresses) != 1 {
		t.Fatalf("expected 1 address result, got %d", len(rep.Addresses))
	}
	if rep.Addresses[0].Checked {
		t.Error("membership should be unchecked without an allow set")
	}
}

func TestRun_ProbeFailureKeepsOtherOutcomes(t *testing.T) {
	stubProbe(t, CheckResult{OK: false, Detail: "dial tcp: i/o timeout"})

	resolver := &fakeResolver{ips: []net.IP{net.ParseIP("140.82.121.3")}}
	members := &fakeMembership{members: map[string]bool{"140.82.121.3": true}}

	rep := New(resolver, members, time.Second).Run(context.Background(), "github.com", false)

	if !rep.Resolution.OK {
		t.Error("resolution outcome must not depend on the probe")
	}
	if !rep.Addresses[0].InAllowSet {
		t.Error("membership outcome must not depend on the probe")
	}
	if rep.Reachability.OK {
		t.Error("expected reachability failure")
	}
}

func TestRun_Ping(t *testing.T) {
	stubProbe(t, CheckResult{OK: true})
	pinged := stubPing(t, CheckResult{OK: true, Detail: "rtt 12ms"})

	resolver := &fakeResolver{ips: []net.IP{net.ParseIP("140.82.121.3")}}
	rep := New(resolver, nil, time.Second).Run(context.Background(), "github.com", true)

	if rep.Ping == nil || !rep.Ping.OK {
		t.Fatalf("expected ping result, got %+v", rep.Ping)
	}
	if *pinged != "140.82.121.3" {
		t.Errorf("pinged %q, want first resolved address", *pinged)
	}
}

func TestRun_MembershipErrorLeavesUnchecked(t *testing.T) {
	stubProbe(t, CheckResult{OK: true})

	resolver := &fakeResolver{ips: []net.IP{net.ParseIP("140.82.121.3")}}
	members := &fakeMembership{err: fmt.Errorf("table netfence not found")}

	rep := New(resolver, members, time.Second).Run(context.Background(), "github.com", false)

	if rep.Addresses[0].Checked {
		t.Error("membership error should leave the address unchecked")
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	tester := New(&fakeResolver{}, nil, 0)
	if tester.timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", tester.timeout, DefaultTimeout)
	}
}
