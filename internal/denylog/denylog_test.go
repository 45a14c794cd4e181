//go:build linux

package denylog

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/florianl/go-nflog/v2"
)

func makeIPv4Packet(proto byte, src, dst string, sport, dport uint16) []byte {
	p := make([]byte, 28)
	p[0] = 0x45
	binary.BigEndian.PutUint16(p[2:4], uint16(len(p)))
	p[9] = proto
	copy(p[12:16], net.ParseIP(src).To4())
	copy(p[16:20], net.ParseIP(dst).To4())
	binary.BigEndian.PutUint16(p[20:22], sport)
	binary.BigEndian.PutUint16(p[22:24], dport)
	return p
}

func TestDecodeIPv4_TCP(t *testing.T) {
	var ev Event
	decodeIPv4(makeIPv4Packet(6, "10.0.0.5", "140.82.121.3", 54321, 443), &ev)

	if ev.Protocol != "TCP" {
		t.Errorf("protocol = %q, want TCP", ev.Protocol)
	}
	if ev.SrcIP != "10.0.0.5" || ev.DstIP != "140.82.121.3" {
		t.Errorf("addresses = %s -> %s", ev.SrcIP, ev.DstIP)
	}
	if ev.SrcPort != 54321 || ev.DstPort != 443 {
		t.Errorf("ports = %d -> %d", ev.SrcPort, ev.DstPort)
	}
	if ev.Length != 28 {
		t.Errorf("length = %d, want 28", ev.Length)
	}
}

func TestDecodeIPv4_UDP(t *testing.T) {
	var ev Event
	decodeIPv4(makeIPv4Packet(17, "10.0.0.5", "1.1.1.1", 40000, 53), &ev)

	if ev.Protocol != "UDP" {
		t.Errorf("protocol = %q, want UDP", ev.Protocol)
	}
	if ev.DstPort != 53 {
		t.Errorf("dst port = %d, want 53", ev.DstPort)
	}
}

func TestDecodeIPv4_OtherProtocol(t *testing.T) {
	var ev Event
	decodeIPv4(makeIPv4Packet(47, "10.0.0.5", "10.0.0.6", 0, 0), &ev)

	if ev.Protocol != "IP/47" {
		t.Errorf("protocol = %q, want IP/47", ev.Protocol)
	}
	if ev.SrcPort != 0 || ev.DstPort != 0 {
		t.Errorf("ports should stay zero for non-TCP/UDP, got %d/%d", ev.SrcPort, ev.DstPort)
	}
}

func TestDecodeIPv4_RejectsNonIPv4(t *testing.T) {
	p := makeIPv4Packet(6, "10.0.0.5", "10.0.0.6", 1, 2)
	p[0] = 0x60 // IPv6 version nibble

	var ev Event
	decodeIPv4(p, &ev)
	if ev.SrcIP != "" || ev.Protocol != "" {
		t.Errorf("non-IPv4 payload decoded: %+v", ev)
	}
}

func TestDecodeIPv4_TooShort(t *testing.T) {
	var ev Event
	decodeIPv4([]byte{0x45, 0x00}, &ev)
	if ev.SrcIP != "" {
		t.Errorf("short payload decoded: %+v", ev)
	}
}

func TestDirectionFromPrefix(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"DENY_EGRESS: ", "egress"},
		{"DENY_INGRESS: ", "ingress"},
		{"TLS_SNI: ", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := directionFromPrefix(tc.prefix); got != tc.want {
			t.Errorf("directionFromPrefix(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestHandle(t *testing.T) {
	tap := NewTap(100, 10, nil)
	sub := tap.Subscribe()

	prefix := "DENY_EGRESS: "
	payload := makeIPv4Packet(6, "10.0.0.5", "93.184.216.34", 51000, 443)
	tap.handle(nflog.Attribute{Prefix: &prefix, Payload: &payload})

	if tap.Count() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", tap.Count())
	}

	ev := tap.Recent(1)[0]
	if ev.Direction != "egress" {
		t.Errorf("direction = %q, want egress", ev.Direction)
	}
	if ev.DstIP != "93.184.216.34" || ev.DstPort != 443 {
		t.Errorf("decoded tuple = %s:%d", ev.DstIP, ev.DstPort)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	select {
	case got := <-sub:
		if got.DstIP != ev.DstIP {
			t.Errorf("subscriber saw %s, want %s", got.DstIP, ev.DstIP)
		}
	default:
		t.Error("subscriber did not receive the event")
	}
}

func TestRingBuffer(t *testing.T) {
	tap := NewTap(100, 20, nil)

	prefix := "DENY_INGRESS: "
	for i := 0; i < 50; i++ {
		payload := makeIPv4Packet(6, fmt.Sprintf("10.0.0.%d", i%250), "10.0.0.1", uint16(1000+i), 22)
		tap.handle(nflog.Attribute{Prefix: &prefix, Payload: &payload})
	}

	if tap.Count() > 20 {
		t.Errorf("buffer grew past maxSize: %d", tap.Count())
	}

	recent := tap.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) returned %d events", len(recent))
	}
	if recent[0].SrcPort != 1049 {
		t.Errorf("newest event src port = %d, want 1049", recent[0].SrcPort)
	}
}

func TestRecent_Order(t *testing.T) {
	tap := NewTap(100, 10, nil)

	prefix := "DENY_EGRESS: "
	for _, port := range []uint16{80, 443, 8080} {
		payload := makeIPv4Packet(6, "10.0.0.5", "10.0.0.6", 50000, port)
		tap.handle(nflog.Attribute{Prefix: &prefix, Payload: &payload})
	}

	got := tap.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d events", len(got))
	}
	if got[0].DstPort != 443 || got[1].DstPort != 8080 {
		t.Errorf("order = %d, %d; want 443, 8080", got[0].DstPort, got[1].DstPort)
	}
}

func TestStopWithoutStart(t *testing.T) {
	tap := NewTap(100, 10, nil)

	// Stop before Start (or twice) must not panic, and the running
	// flag must read false from any goroutine afterwards.
	tap.Stop()
	tap.Stop()

	done := make(chan bool)
	go func() { done <- tap.running.Load() }()
	if <-done {
		t.Error("tap reports running after Stop")
	}
}

func TestEventString(t *testing.T) {
	ev := Event{
		Direction: "egress",
		Protocol:  "TCP",
		SrcIP:     "10.0.0.5",
		SrcPort:   51000,
		DstIP:     "93.184.216.34",
		DstPort:   443,
	}
	s := ev.String()
	for _, want := range []string{"egress", "TCP", "10.0.0.5:51000", "93.184.216.34:443"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
