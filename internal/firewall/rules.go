//go:build linux
// +build linux

package firewall

import (
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

const (
	// IPv4 Header Offsets (RFC 791)
	IPv4SrcOffset = 12
	IPv4DstOffset = 16
	IPv4AddrLen   = 4

	// TCP/UDP header offsets
	SportOffset = 0
	DportOffset = 2
	PortLen     = 2
)

// matchIPv4 restricts a rule to IPv4 packets. In an 'inet' table this
// guard keeps IPv4 payload offsets from being applied to IPv6 packets.
func matchIPv4() []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{unix.NFPROTO_IPV4},
		},
	}
}

// matchCIDR matches the source or destination address against a
// network in CIDR notation.
func matchCIDR(cidr string, dst bool) []expr.Any {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil
	}

	offset := uint32(IPv4SrcOffset)
	if dst {
		offset = IPv4DstOffset
	}

	exprs := matchIPv4()
	exprs = append(exprs,
		// Load address
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          IPv4AddrLen,
		},
		// Bitwise AND with mask
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            IPv4AddrLen,
			Mask:           ipNet.Mask,
			Xor:            []byte{0, 0, 0, 0},
		},
		// Compare with network address
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     ipNet.IP.To4(),
		},
	)
	return exprs
}

// matchCtEstablished matches packets belonging to established or
// related connections.
func matchCtEstablished() []expr.Any {
	return []expr.Any{
		&expr.Ct{Key: expr.CtKeySTATE, Register: 1},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           binaryutil.NativeEndian.PutUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED),
			Xor:            []byte{0, 0, 0, 0},
		},
		&expr.Cmp{
			Op:       expr.CmpOpNeq,
			Register: 1,
			Data:     []byte{0, 0, 0, 0},
		},
	}
}

// matchIface matches the input or output interface name.
func matchIface(name string, output bool) []expr.Any {
	key := expr.MetaKeyIIFNAME
	if output {
		key = expr.MetaKeyOIFNAME
	}
	return []expr.Any{
		&expr.Meta{Key: key, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     ifname(name),
		},
	}
}

// matchPort matches a single TCP or UDP port on the source or
// destination side.
func matchPort(proto byte, port uint16, src bool) []expr.Any {
	offset := uint32(DportOffset)
	if src {
		offset = SportOffset
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{proto},
		},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       offset,
			Len:          PortLen,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(port),
		},
	}
}

// matchAddrSet matches the source or destination address against a
// named set.
func matchAddrSet(setName string, dst bool) []expr.Any {
	offset := uint32(IPv4SrcOffset)
	if dst {
		offset = IPv4DstOffset
	}
	exprs := matchIPv4()
	exprs = append(exprs,
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          IPv4AddrLen,
		},
		&expr.Lookup{
			SourceRegister: 1,
			SetName:        setName,
		},
	)
	return exprs
}

// matchTCPPortSet matches the TCP source or destination port against
// an anonymous port set.
func matchTCPPortSet(set *nftables.Set, src bool) []expr.Any {
	offset := uint32(DportOffset)
	if src {
		offset = SportOffset
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{unix.IPPROTO_TCP},
		},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       offset,
			Len:          PortLen,
		},
		&expr.Lookup{
			SourceRegister: 1,
			SetName:        set.Name,
			SetID:          set.ID,
		},
	}
}

// accept returns the accept verdict.
func accept() []expr.Any {
	return []expr.Any{&expr.Verdict{Kind: expr.VerdictAccept}}
}

// logDrop counts the packet, hands it to the nflog group with the
// given prefix, and drops it.
func logDrop(group uint16, prefix string) []expr.Any {
	return []expr.Any{
		&expr.Counter{},
		&expr.Log{
			Key:   (1 << unix.NFTA_LOG_GROUP) | (1 << unix.NFTA_LOG_PREFIX),
			Group: group,
			Data:  []byte(prefix),
		},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}

// ifname pads an interface name to the fixed-width buffer nftables
// expects.
func ifname(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}

func join(parts ...[]expr.Any) []expr.Any {
	var out []expr.Any
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
