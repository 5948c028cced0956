package wire

import "encoding/binary"

// sdPayloadMinSize is the minimum legal SD payload size: flags(1) + reserved(3)
// + entries_length(4) + options_length(4) (§4.1: "SD message length < 12" fails).
const sdPayloadMinSize = 12

// SDMessage is the decoded form of a full SOME/IP-SD message: the fixed
// SOME/IP header (session ID and flags vary), the list of entries, and the
// list of options referenced by those entries.
type SDMessage struct {
	SessionID uint16
	Flags     uint8
	Entries   []Entry
	Options   []EndpointOption
}

// MarshalSDMessage encodes m as a complete SOME/IP-SD frame (header + SD
// payload) into buf and returns the number of bytes written.
func MarshalSDMessage(m SDMessage, buf []byte) (int, error) {
	entriesLen := len(m.Entries) * EntrySize
	optionsLen := 0
	for _, o := range m.Options {
		optionsLen += o.Size()
	}

	payloadLen := sdPayloadMinSize + entriesLen + optionsLen
	total := HeaderSize + payloadLen
	if len(buf) < total {
		return 0, malformed(errEntryTruncated)
	}

	h := SDHeader(m.SessionID, payloadLen)
	if _, err := MarshalHeader(h, buf); err != nil {
		return 0, err
	}

	off := HeaderSize
	buf[off] = m.Flags
	buf[off+1], buf[off+2], buf[off+3] = 0, 0, 0
	off += 4

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(entriesLen)) //nolint:gosec // bounded by MaxSDMessageSize
	off += 4
	for _, e := range m.Entries {
		n, err := MarshalEntry(e, buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(optionsLen)) //nolint:gosec // bounded by MaxSDMessageSize
	off += 4
	for _, o := range m.Options {
		n, err := MarshalOption(o, buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}

	return off, nil
}

// UnmarshalSDMessage decodes a complete SOME/IP-SD frame from buf.
//
// Unknown, non-discardable options fail the whole message
// (ErrMalformedMessage). Unknown discardable options are skipped and omitted
// from the returned Options slice; the entries that referenced them by index
// still decode, but index correctness of skipped options is the caller's
// concern since this codec returns options as a flat, possibly-shorter list.
func UnmarshalSDMessage(buf []byte) (SDMessage, error) {
	var m SDMessage

	h, err := UnmarshalHeader(buf)
	if err != nil {
		return m, err
	}
	if h.ServiceID != SDServiceID || h.MethodID != SDMethodID {
		return m, malformed(errUnsupportedEntryType)
	}

	payload := buf[HeaderSize:]
	if len(payload) < sdPayloadMinSize {
		return m, malformed(errSDPayloadTooShort)
	}

	m.SessionID = h.SessionID
	m.Flags = payload[0]

	off := 4
	entriesLen := binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	if int(entriesLen) > len(payload)-off {
		return m, malformed(errEntriesLengthOverflow)
	}
	if entriesLen%EntrySize != 0 {
		return m, malformed(errEntryTruncated)
	}

	entriesEnd := off + int(entriesLen)
	for p := off; p < entriesEnd; p += EntrySize {
		e, eerr := UnmarshalEntry(payload[p : p+EntrySize])
		if eerr != nil {
			return m, eerr
		}
		m.Entries = append(m.Entries, e)
	}
	off = entriesEnd

	if len(payload)-off < 4 {
		return m, malformed(errOptionsLengthOverflow)
	}
	optionsLen := binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	if int(optionsLen) > len(payload)-off {
		return m, malformed(errOptionsLengthOverflow)
	}

	optionsEnd := off + int(optionsLen)
	for p := off; p < optionsEnd; {
		opt, consumed, ok, operr := UnmarshalOption(payload[p:optionsEnd])
		if operr != nil {
			return m, operr
		}
		if ok {
			m.Options = append(m.Options, opt)
		}
		if consumed == 0 {
			return m, malformed(errOptionTruncated)
		}
		p += consumed
	}

	return m, nil
}
