package wire

import "encoding/binary"

// SomeIPHeader is the 16-byte SOME/IP message header (§4.1).
//
// Length counts every byte from ClientID through the end of the payload; it
// does not include ServiceID, MethodID, or the Length field itself.
type SomeIPHeader struct {
	ServiceID        uint16
	MethodID         uint16
	Length           uint32
	ClientID         uint16
	SessionID        uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	MessageType      uint8
	ReturnCode       uint8
}

// SDHeader returns the fixed SOME/IP header used by every SD message, with
// the given session ID and payload length already counted in.
func SDHeader(sessionID uint16, payloadLen int) SomeIPHeader {
	return SomeIPHeader{
		ServiceID:        SDServiceID,
		MethodID:         SDMethodID,
		Length:           uint32(8 + payloadLen), //nolint:gosec // payloadLen bounded by MaxSDMessageSize
		ClientID:         SDClientID,
		SessionID:        sessionID,
		ProtocolVersion:  ProtocolVersion,
		InterfaceVersion: InterfaceVersion,
		MessageType:      MessageTypeNotification,
		ReturnCode:       ReturnCodeOK,
	}
}

// MarshalHeader writes h into buf[:16] and returns the number of bytes
// written. buf must have length >= HeaderSize.
func MarshalHeader(h SomeIPHeader, buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, malformed(errHeaderTooShort)
	}

	binary.BigEndian.PutUint16(buf[0:2], h.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], h.MethodID)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint16(buf[8:10], h.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], h.SessionID)
	buf[12] = h.ProtocolVersion
	buf[13] = h.InterfaceVersion
	buf[14] = h.MessageType
	buf[15] = h.ReturnCode

	return HeaderSize, nil
}

// UnmarshalHeader parses the 16-byte SOME/IP header from buf and validates
// that the declared Length field matches the actual frame size.
func UnmarshalHeader(buf []byte) (SomeIPHeader, error) {
	var h SomeIPHeader

	if len(buf) < HeaderSize {
		return h, malformed(errHeaderTooShort)
	}

	h.ServiceID = binary.BigEndian.Uint16(buf[0:2])
	h.MethodID = binary.BigEndian.Uint16(buf[2:4])
	h.Length = binary.BigEndian.Uint32(buf[4:8])
	h.ClientID = binary.BigEndian.Uint16(buf[8:10])
	h.SessionID = binary.BigEndian.Uint16(buf[10:12])
	h.ProtocolVersion = buf[12]
	h.InterfaceVersion = buf[13]
	h.MessageType = buf[14]
	h.ReturnCode = buf[15]

	// Length counts everything from ClientID onward, i.e. the frame size
	// minus the 8 bytes of ServiceID+MethodID+Length themselves.
	wantLen := uint32(len(buf) - 8) //nolint:gosec // buf bounded well below 2^32
	if h.Length != wantLen {
		return h, malformed(errHeaderLengthMismatch)
	}

	return h, nil
}
