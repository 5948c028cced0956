// Package wire implements the SOME/IP and SOME/IP-SD wire formats: the
// 16-byte SOME/IP message header, SD entries, and SD endpoint options.
//
// Every multi-byte field on the wire is big-endian. The package only
// understands the subset of SOME/IP-SD needed by the RemoteServer
// subsystem: FindService/OfferService/StopOfferService entries,
// SubscribeEventgroup/StopSubscribeEventgroup/Ack/Nack entries, and IPv4/IPv6
// unicast/multicast endpoint options. Payload (de)serialization of
// application data is out of scope; payload bytes are passed through
// opaquely by higher layers.
package wire

import (
	"errors"
	"sync"
)

// SOME/IP header field values fixed for every SD message (§4.1, §6).
const (
	SDServiceID  uint16 = 0xFFFF
	SDMethodID   uint16 = 0x8100
	SDClientID   uint16 = 0x0000
	ProtocolVersion  uint8 = 0x01
	InterfaceVersion uint8 = 0x01

	MessageTypeNotification uint8 = 0x02
	ReturnCodeOK            uint8 = 0x00
)

// HeaderSize is the fixed size of the SOME/IP message header in bytes.
const HeaderSize = 16

// EntrySize is the fixed size of a single SD entry in bytes.
const EntrySize = 16

// SD payload flag bits (§6).
const (
	FlagReboot  uint8 = 0x80
	FlagUnicast uint8 = 0x40
)

// MaxSDMessageSize is the maximum size of an SD message the scheduler may
// aggregate entries into (§4.7). The codec itself does not enforce this on
// either encode or decode; it is the scheduler's concern.
const MaxSDMessageSize = 1392

// Sentinel errors for the wire codec's error taxonomy kind MalformedMessage
// (SPEC_FULL §7.1). All are wrapped as ErrMalformedMessage via errors.Join
// semantics so callers can test with a single errors.Is(err, ErrMalformedMessage).
var (
	ErrMalformedMessage = errors.New("wire: malformed message")

	errHeaderTooShort      = errors.New("wire: header shorter than 16 bytes")
	errHeaderLengthMismatch = errors.New("wire: header length field disagrees with frame size")
	errSDPayloadTooShort   = errors.New("wire: sd payload shorter than 12 bytes")
	errEntriesLengthOverflow = errors.New("wire: entries length exceeds remaining bytes")
	errOptionsLengthOverflow = errors.New("wire: options length exceeds remaining bytes")
	errEntryTruncated      = errors.New("wire: entry truncated")
	errOptionTruncated     = errors.New("wire: option truncated")
	errOptionLengthOverflow = errors.New("wire: option length exceeds its section")
	errUnknownOption       = errors.New("wire: unknown non-discardable option type")
	errUnsupportedEntryType = errors.New("wire: unsupported entry type")
)

// malformed wraps a specific cause with ErrMalformedMessage so that callers
// can match on the general kind while the error text keeps the specific
// cause (mirrors bfd.UnmarshalControlPacket's sentinel-wrapping style).
func malformed(cause error) error {
	return errors.Join(ErrMalformedMessage, cause)
}

// BufferPool caches byte slices for encoding SD messages, avoiding a fresh
// allocation per scheduled entry under steady-state subscription churn.
var BufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxSDMessageSize)
		return &buf
	},
}
