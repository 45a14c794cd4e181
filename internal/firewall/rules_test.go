//go:build linux

package firewall

import (
	"testing"

	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

func TestMatchCIDR(t *testing.T) {
	tests := []struct {
		name           string
		cidr           string
		dst            bool
		expectedOffset uint32
	}{
		{"SrcNetwork", "10.0.0.0/8", false, 12},
		{"DstNetwork", "172.16.0.0/12", true, 16},
		{"DstHost", "192.0.2.1/32", true, 16},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exprs := matchCIDR(tc.cidr, tc.dst)
			if len(exprs) == 0 {
				t.Fatal("Expected expressions")
			}

			foundPayload := false
			for _, e := range exprs {
				if p, ok := e.(*expr.Payload); ok {
					foundPayload = true
					if p.Offset != tc.expectedOffset {
						t.Errorf("Expected offset %d, got %d", tc.expectedOffset, p.Offset)
					}
					if p.Base != expr.PayloadBaseNetworkHeader {
						t.Error("Expected NetworkHeader base")
					}
					if p.Len != 4 {
						t.Errorf("Expected 4-byte load, got %d", p.Len)
					}
				}
			}
			if !foundPayload {
				t.Error("No payload expression found")
			}
		})
	}
}

func TestMatchCIDR_Invalid(t *testing.T) {
	if exprs := matchCIDR("not-a-network", true); exprs != nil {
		t.Errorf("Expected nil for invalid CIDR, got %d exprs", len(exprs))
	}
}

func TestMatchPort(t *testing.T) {
	exprs := matchPort(unix.IPPROTO_UDP, 53, false)
	if len(exprs) != 4 {
		t.Fatalf("Expected 4 exprs, got %d", len(exprs))
	}

	p, ok := exprs[2].(*expr.Payload)
	if !ok {
		t.Fatal("Expected payload expression")
	}
	if p.Base != expr.PayloadBaseTransportHeader {
		t.Error("Expected TransportHeader base")
	}
	if p.Offset != DportOffset {
		t.Errorf("Expected dport offset %d, got %d", DportOffset, p.Offset)
	}

	// Port is compared in network byte order
	cmp, ok := exprs[3].(*expr.Cmp)
	if !ok {
		t.Fatal("Expected cmp expression")
	}
	if cmp.Data[0] != 0 || cmp.Data[1] != 53 {
		t.Errorf("Expected big-endian 53, got %v", cmp.Data)
	}

	// Source side shifts the offset
	exprs = matchPort(unix.IPPROTO_TCP, 53, true)
	p = exprs[2].(*expr.Payload)
	if p.Offset != SportOffset {
		t.Errorf("Expected sport offset %d, got %d", SportOffset, p.Offset)
	}
}

func TestMatchAddrSet(t *testing.T) {
	tests := []struct {
		name           string
		dst            bool
		expectedOffset uint32
	}{
		{"Dst", true, IPv4DstOffset},
		{"Src", false, IPv4SrcOffset},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exprs := matchAddrSet("allowed_v4", tc.dst)

			var lookup *expr.Lookup
			for _, e := range exprs {
				if l, ok := e.(*expr.Lookup); ok {
					lookup = l
				}
				if p, ok := e.(*expr.Payload); ok && p.Offset != tc.expectedOffset {
					t.Errorf("Expected offset %d, got %d", tc.expectedOffset, p.Offset)
				}
			}
			if lookup == nil {
				t.Fatal("No lookup expression found")
			}
			if lookup.SetName != "allowed_v4" {
				t.Errorf("Expected lookup against allowed_v4, got %s", lookup.SetName)
			}
		})
	}
}

func TestLogDrop(t *testing.T) {
	exprs := logDrop(100, "DENY_EGRESS: ")
	if len(exprs) != 3 {
		t.Fatalf("Expected counter+log+verdict, got %d exprs", len(exprs))
	}

	if _, ok := exprs[0].(*expr.Counter); !ok {
		t.Error("Expected counter first")
	}

	log, ok := exprs[1].(*expr.Log)
	if !ok {
		t.Fatal("Expected log expression")
	}
	if log.Group != 100 {
		t.Errorf("Expected nflog group 100, got %d", log.Group)
	}
	if string(log.Data) != "DENY_EGRESS: " {
		t.Errorf("Unexpected prefix %q", log.Data)
	}
	if log.Key&(1<<unix.NFTA_LOG_GROUP) == 0 || log.Key&(1<<unix.NFTA_LOG_PREFIX) == 0 {
		t.Errorf("Expected group and prefix attribute bits, got %b", log.Key)
	}

	verdict, ok := exprs[2].(*expr.Verdict)
	if !ok {
		t.Fatal("Expected verdict expression")
	}
	if verdict.Kind != expr.VerdictDrop {
		t.Error("Expected drop verdict")
	}
}

func TestIfname(t *testing.T) {
	b := ifname("lo")
	if len(b) != 16 {
		t.Fatalf("Expected 16-byte buffer, got %d", len(b))
	}
	if b[0] != 'l' || b[1] != 'o' || b[2] != 0 {
		t.Errorf("Unexpected padding: %v", b)
	}
}
