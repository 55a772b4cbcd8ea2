package rtp

import "encoding/binary"

// RTX encapsulates a retransmitted packet per RFC 4588 §4: the original
// sequence number (OSN) is prepended to the payload, and the packet's PT and
// SSRC are switched to the RTX stream's values.
//
// BuildRTX leaves original unchanged: the RTX packet gets a copy of its
// header with the payload type, SSRC and sequence number replaced.

// BuildRTX produces a new packet that retransmits original over the RTX
// stream identified by (rtxPayloadType, rtxSSRC), with a fresh sequence
// number rtxSequence.
func BuildRTX(original *Packet, rtxPayloadType uint8, rtxSSRC uint32, rtxSequence uint16) *Packet {
	payload := make([]byte, 2+len(original.Payload))
	binary.BigEndian.PutUint16(payload[0:2], original.SequenceNumber)
	copy(payload[2:], original.Payload)

	rtx := &Packet{
		Header:  original.Header,
		Payload: payload,
	}
	rtx.PayloadType = rtxPayloadType
	rtx.SSRC = rtxSSRC
	rtx.SequenceNumber = rtxSequence
	return rtx
}

// ParseRTX reverses BuildRTX: it extracts the original sequence number and
// the original (non-RTX) payload from an RTX packet. The caller supplies the
// original PT/SSRC to reconstruct the de-encapsulated packet's header.
func ParseRTX(rtx *Packet, originalPayloadType uint8, originalSSRC uint32) (*Packet, error) {
	if len(rtx.Payload) < 2 {
		return nil, ErrMalformed
	}
	osn := binary.BigEndian.Uint16(rtx.Payload[0:2])

	original := &Packet{
		Header:  rtx.Header,
		Payload: rtx.Payload[2:],
	}
	original.PayloadType = originalPayloadType
	original.SSRC = originalSSRC
	original.SequenceNumber = osn
	return original, nil
}
