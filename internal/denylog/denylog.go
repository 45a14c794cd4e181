//go:build linux
// +build linux

// Package denylog taps the nflog group fed by the terminal deny rules
// and decodes dropped packets into events. The tap is observational
// only; it never touches firewall state.
package denylog

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianl/go-nflog/v2"

	"github.com/cdaein/netfence/internal/clock"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/logging"
	"github.com/cdaein/netfence/internal/metrics"
)

// DefaultBufferSize bounds the in-memory event ring.
const DefaultBufferSize = 1000

// Event is one dropped packet decoded from the nflog stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction,omitempty"`
	Prefix    string    `json:"prefix,omitempty"`
	SrcIP     string    `json:"src_ip,omitempty"`
	DstIP     string    `json:"dst_ip,omitempty"`
	SrcPort   uint16    `json:"src_port,omitempty"`
	DstPort   uint16    `json:"dst_port,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	Length    uint32    `json:"length,omitempty"`
	InDev     string    `json:"in_dev,omitempty"`
	OutDev    string    `json:"out_dev,omitempty"`
}

// String renders an event as a single log line.
func (e Event) String() string {
	proto := e.Protocol
	if proto == "" {
		proto = "?"
	}
	return fmt.Sprintf("%s %-7s %s %s:%d -> %s:%d",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Direction, proto,
		e.SrcIP, e.SrcPort, e.DstIP, e.DstPort)
}

// Tap binds an nflog group and fans decoded events out to a ring
// buffer and subscribers.
type Tap struct {
	group   uint16
	maxSize int
	logger  *logging.Logger

	nf     *nflog.Nflog
	cancel context.CancelFunc

	mu     sync.RWMutex
	events []Event

	subsMu sync.RWMutex
	subs   []chan Event

	// Read from the nflog callback goroutine.
	running atomic.Bool
}

// NewTap creates a tap for the given nflog group. maxSize bounds the
// ring buffer; values <= 0 fall back to DefaultBufferSize.
func NewTap(group uint16, maxSize int, logger *logging.Logger) *Tap {
	if maxSize <= 0 {
		maxSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tap{
		group:   group,
		maxSize: maxSize,
		logger:  logger,
		events:  make([]Event, 0, maxSize),
	}
}

// Start opens the nflog socket and begins receiving. Requires the
// firewall's deny rules to log to the same group.
func (t *Tap) Start() error {
	cfg := nflog.Config{
		Group:       t.group,
		Copymode:    nflog.CopyPacket,
		ReadTimeout: 10 * time.Millisecond,
	}

	nf, err := nflog.Open(&cfg)
	if err != nil {
		return fmt.Errorf("failed to open nflog group %d: %w", t.group, err)
	}
	t.nf = nf

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running.Store(true)

	err = nf.RegisterWithErrorFunc(ctx,
		func(attrs nflog.Attribute) int {
			t.handle(attrs)
			return 0
		},
		func(err error) int {
			if t.running.Load() {
				t.logger.Warn("nflog read error", "error", err)
			}
			return 0
		},
	)
	if err != nil {
		nf.Close()
		return fmt.Errorf("failed to register nflog callback: %w", err)
	}

	t.logger.Debug("Deny-event tap started", "group", t.group)
	return nil
}

// Stop closes the nflog socket. Subscriber channels stay open but
// receive nothing further.
func (t *Tap) Stop() {
	t.running.Store(false)
	if t.cancel != nil {
		t.cancel()
	}
	if t.nf != nil {
		t.nf.Close()
	}
}

// handle decodes one nflog message and distributes the event.
func (t *Tap) handle(attrs nflog.Attribute) {
	ev := Event{Timestamp: clock.Now()}

	if attrs.Prefix != nil {
		ev.Prefix = *attrs.Prefix
		ev.Direction = directionFromPrefix(*attrs.Prefix)
	}
	if attrs.InDev != nil {
		if iface, err := net.InterfaceByIndex(int(*attrs.InDev)); err == nil {
			ev.InDev = iface.Name
		}
	}
	if attrs.OutDev != nil {
		if iface, err := net.InterfaceByIndex(int(*attrs.OutDev)); err == nil {
			ev.OutDev = iface.Name
		}
	}
	if attrs.Payload != nil {
		decodeIPv4(*attrs.Payload, &ev)
	}

	if ev.Direction != "" {
		metrics.Get().RecordDeniedPacket(ev.Direction)
	}

	t.append(ev)
	t.broadcast(ev)
}

// directionFromPrefix maps the rule log prefix to a direction label.
func directionFromPrefix(prefix string) string {
	switch {
	case strings.HasPrefix(prefix, firewall.DenyEgressPrefix):
		return "egress"
	case strings.HasPrefix(prefix, firewall.DenyIngressPrefix):
		return "ingress"
	}
	return ""
}

// decodeIPv4 extracts addresses and transport ports from a raw IPv4
// packet. The deny rules only match IPv4, so anything else is left
// undecoded.
func decodeIPv4(payload []byte, ev *Event) {
	if len(payload) < 20 {
		return
	}
	if payload[0]>>4 != 4 {
		return
	}

	ihl := int(payload[0]&0x0f) * 4
	if ihl < 20 || len(payload) < ihl {
		return
	}

	ev.Length = uint32(binary.BigEndian.Uint16(payload[2:4]))
	ev.SrcIP = net.IP(payload[12:16]).String()
	ev.DstIP = net.IP(payload[16:20]).String()

	proto := payload[9]
	switch proto {
	case 1:
		ev.Protocol = "ICMP"
	case 6:
		ev.Protocol = "TCP"
	case 17:
		ev.Protocol = "UDP"
	default:
		ev.Protocol = fmt.Sprintf("IP/%d", proto)
		return
	}

	if (proto == 6 || proto == 17) && len(payload) >= ihl+4 {
		ev.SrcPort = binary.BigEndian.Uint16(payload[ihl : ihl+2])
		ev.DstPort = binary.BigEndian.Uint16(payload[ihl+2 : ihl+4])
	}
}

// append stores an event in the ring buffer, discarding the oldest
// tenth when full.
func (t *Tap) append(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.events) >= t.maxSize {
		cutoff := t.maxSize / 10
		if cutoff < 1 {
			cutoff = 1
		}
		t.events = t.events[cutoff:]
	}
	t.events = append(t.events, ev)
}

// Recent returns up to limit newest events, oldest first. limit <= 0
// returns everything buffered.
func (t *Tap) Recent(limit int) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.events) {
		limit = len(t.events)
	}
	start := len(t.events) - limit

	out := make([]Event, limit)
	copy(out, t.events[start:])
	return out
}

// Count returns the number of buffered events.
func (t *Tap) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Subscribe returns a channel receiving future events. Slow consumers
// lose events rather than blocking the tap.
func (t *Tap) Subscribe() <-chan Event {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()

	ch := make(chan Event, 100)
	t.subs = append(t.subs, ch)
	return ch
}

func (t *Tap) broadcast(ev Event) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for _, sub := range t.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
