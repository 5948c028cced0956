package wire

import "encoding/binary"

// EntryType identifies the kind of an SD entry (§4.1, §6).
type EntryType uint8

// Entry type values as carried on the wire.
const (
	EntryTypeFindService  EntryType = 0x00
	EntryTypeOfferService EntryType = 0x01

	EntryTypeSubscribeEventgroup    EntryType = 0x06
	EntryTypeSubscribeEventgroupAck EntryType = 0x07
)

// String implements fmt.Stringer.
func (t EntryType) String() string {
	switch t {
	case EntryTypeFindService:
		return "FindService"
	case EntryTypeOfferService:
		return "OfferService"
	case EntryTypeSubscribeEventgroup:
		return "SubscribeEventgroup"
	case EntryTypeSubscribeEventgroupAck:
		return "SubscribeEventgroupAck"
	default:
		return "Unknown"
	}
}

// isServiceEntry reports whether t carries a MinorVersion field (Find/Offer)
// as opposed to a Counter+EventgroupID field (Subscribe/Ack).
func (t EntryType) isServiceEntry() bool {
	return t == EntryTypeFindService || t == EntryTypeOfferService
}

// Entry is the 16-byte common representation of every SD entry this package
// understands. Only the fields relevant to Type are meaningful:
//   - FindService/OfferService: ServiceID, InstanceID, MajorVersion, TTL, MinorVersion.
//   - SubscribeEventgroup(Ack): ServiceID, InstanceID, MajorVersion, TTL, Counter, EventgroupID.
//
// TTL of 0 turns OfferService into StopOfferService, SubscribeEventgroup
// into StopSubscribeEventgroup and SubscribeEventgroupAck into Nack — the
// entry Type byte alone does not
// distinguish these; callers interpret TTL==0 per §4.1.
type Entry struct {
	Type EntryType

	// Index1stOpts/Index2ndOpts/NumOpts1/NumOpts2 reference the option
	// array carried alongside the entry in the same SD message.
	Index1stOpts uint8
	Index2ndOpts uint8
	NumOpts1     uint8 // 0-15, high nibble of the wire byte
	NumOpts2     uint8 // 0-15, low nibble of the wire byte

	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	TTL          uint32 // 24-bit value on the wire

	MinorVersion uint32 // FindService/OfferService only

	Counter      uint8  // SubscribeEventgroup(Ack) only
	EventgroupID uint16 // SubscribeEventgroup(Ack) only
}

// MarshalEntry writes e as 16 bytes into buf and returns the count written.
func MarshalEntry(e Entry, buf []byte) (int, error) {
	if len(buf) < EntrySize {
		return 0, malformed(errEntryTruncated)
	}
	if !e.Type.isServiceEntry() && e.Type != EntryTypeSubscribeEventgroup && e.Type != EntryTypeSubscribeEventgroupAck {
		return 0, malformed(errUnsupportedEntryType)
	}

	buf[0] = byte(e.Type)
	buf[1] = e.Index1stOpts
	buf[2] = e.Index2ndOpts
	buf[3] = (e.NumOpts1 << 4) | (e.NumOpts2 & 0x0F)

	binary.BigEndian.PutUint16(buf[4:6], e.ServiceID)
	binary.BigEndian.PutUint16(buf[6:8], e.InstanceID)

	majorTTL := (uint32(e.MajorVersion) << 24) | (e.TTL & 0x00FFFFFF)
	binary.BigEndian.PutUint32(buf[8:12], majorTTL)

	if e.Type.isServiceEntry() {
		binary.BigEndian.PutUint32(buf[12:16], e.MinorVersion)
	} else {
		buf[12] = 0
		buf[13] = e.Counter
		binary.BigEndian.PutUint16(buf[14:16], e.EventgroupID)
	}

	return EntrySize, nil
}

// UnmarshalEntry parses a 16-byte SD entry from buf[:16].
func UnmarshalEntry(buf []byte) (Entry, error) {
	var e Entry

	if len(buf) < EntrySize {
		return e, malformed(errEntryTruncated)
	}

	e.Type = EntryType(buf[0])
	e.Index1stOpts = buf[1]
	e.Index2ndOpts = buf[2]
	e.NumOpts1 = buf[3] >> 4
	e.NumOpts2 = buf[3] & 0x0F

	e.ServiceID = binary.BigEndian.Uint16(buf[4:6])
	e.InstanceID = binary.BigEndian.Uint16(buf[6:8])

	majorTTL := binary.BigEndian.Uint32(buf[8:12])
	e.MajorVersion = uint8(majorTTL >> 24) //nolint:gosec // top byte only
	e.TTL = majorTTL & 0x00FFFFFF

	switch {
	case e.Type.isServiceEntry():
		e.MinorVersion = binary.BigEndian.Uint32(buf[12:16])
	case e.Type == EntryTypeSubscribeEventgroup || e.Type == EntryTypeSubscribeEventgroupAck:
		e.Counter = buf[13]
		e.EventgroupID = binary.BigEndian.Uint16(buf[14:16])
	default:
		return e, malformed(errUnsupportedEntryType)
	}

	return e, nil
}
