package wire

import (
	"encoding/binary"
	"net/netip"
)

// OptionType identifies the kind of an SD endpoint option (§4.1, §6).
type OptionType uint8

// Option type values as carried on the wire.
const (
	OptionTypeIPv4Endpoint  OptionType = 0x04
	OptionTypeIPv6Endpoint  OptionType = 0x06
	OptionTypeIPv4Multicast OptionType = 0x14
	OptionTypeIPv6Multicast OptionType = 0x16
)

// L4Protocol is the transport protocol carried in an endpoint option.
type L4Protocol uint8

// L4 protocol values as carried on the wire.
const (
	L4TCP L4Protocol = 0x06
	L4UDP L4Protocol = 0x11
)

// discardableBit is bit0 of the option flags byte (§4.1).
const discardableBit = 0x01

// EndpointOption is an IPv4 or IPv6 unicast/multicast endpoint option.
// Whether Addr is interpreted as IPv4 or IPv6, and whether the option is a
// unicast or multicast variant, is determined by Type.
type EndpointOption struct {
	Type        OptionType
	Discardable bool
	Addr        netip.Addr
	Protocol    L4Protocol
	Port        uint16
}

// IsMulticast reports whether o is one of the multicast option types.
func (o EndpointOption) IsMulticast() bool {
	return o.Type == OptionTypeIPv4Multicast || o.Type == OptionTypeIPv6Multicast
}

// wireLength returns the option's length field value (§4.1): 1 (flags) plus
// the address/reserved/protocol/port payload.
func (o EndpointOption) wireLength() uint16 {
	if o.Type == OptionTypeIPv6Endpoint || o.Type == OptionTypeIPv6Multicast {
		return 0x0015
	}
	return 0x0009
}

// Size returns the total encoded size of o in bytes, including its 4-byte
// length+type+flags header.
func (o EndpointOption) Size() int {
	return 3 + int(o.wireLength())
}

// MarshalOption encodes o into buf and returns the number of bytes written.
func MarshalOption(o EndpointOption, buf []byte) (int, error) {
	size := o.Size()
	if len(buf) < size {
		return 0, malformed(errOptionTruncated)
	}

	binary.BigEndian.PutUint16(buf[0:2], o.wireLength())
	buf[2] = byte(o.Type)

	flags := uint8(0)
	if o.Discardable {
		flags |= discardableBit
	}
	buf[3] = flags

	off := 4
	switch o.Type {
	case OptionTypeIPv4Endpoint, OptionTypeIPv4Multicast:
		a4 := o.Addr.As4()
		copy(buf[off:off+4], a4[:])
		off += 4
		buf[off] = 0 // reserved
		off++
	case OptionTypeIPv6Endpoint, OptionTypeIPv6Multicast:
		a16 := o.Addr.As16()
		copy(buf[off:off+16], a16[:])
		off += 16
		buf[off] = 0 // reserved
		off++
	}

	buf[off] = byte(o.Protocol)
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], o.Port)
	off += 2

	return off, nil
}

// UnmarshalOption decodes a single option starting at buf[0]. It returns the
// decoded option (ok=false if the option type is unrecognized and
// discardable, in which case the caller should skip it rather than fail the
// whole message) and the number of bytes consumed.
func UnmarshalOption(buf []byte) (opt EndpointOption, consumed int, ok bool, err error) {
	if len(buf) < 4 {
		return EndpointOption{}, 0, false, malformed(errOptionTruncated)
	}

	length := binary.BigEndian.Uint16(buf[0:2])
	typ := OptionType(buf[2])
	flags := buf[3]
	discardable := flags&discardableBit != 0

	total := 3 + int(length)
	if total > len(buf) {
		return EndpointOption{}, 0, false, malformed(errOptionLengthOverflow)
	}

	switch typ {
	case OptionTypeIPv4Endpoint, OptionTypeIPv4Multicast:
		if length != 0x0009 {
			return EndpointOption{}, 0, false, malformed(errOptionLengthOverflow)
		}
		var a [4]byte
		copy(a[:], buf[4:8])
		opt = EndpointOption{
			Type:        typ,
			Discardable: discardable,
			Addr:        netip.AddrFrom4(a),
			Protocol:    L4Protocol(buf[9]),
			Port:        binary.BigEndian.Uint16(buf[10:12]),
		}
		return opt, total, true, nil

	case OptionTypeIPv6Endpoint, OptionTypeIPv6Multicast:
		if length != 0x0015 {
			return EndpointOption{}, 0, false, malformed(errOptionLengthOverflow)
		}
		var a [16]byte
		copy(a[:], buf[4:20])
		opt = EndpointOption{
			Type:        typ,
			Discardable: discardable,
			Addr:        netip.AddrFrom16(a),
			Protocol:    L4Protocol(buf[21]),
			Port:        binary.BigEndian.Uint16(buf[22:24]),
		}
		return opt, total, true, nil

	default:
		if !discardable {
			return EndpointOption{}, 0, false, malformed(errUnknownOption)
		}
		// Unknown but discardable: caller skips it, message stays valid.
		return EndpointOption{}, total, false, nil
	}
}
