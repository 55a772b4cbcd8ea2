package dtls

import (
	"encoding/binary"
	"fmt"
)

// record is one DTLS record (RFC 6347 §4.1): a content-typed, versioned,
// epoch/sequence-numbered envelope around a handshake fragment, alert, or
// (post-handshake) encrypted application/SRTP-adjacent data. fragment
// holds the payload as carried on the wire: plaintext in epoch 0, sealed
// by the connection's cipher once one is installed; record itself never
// encrypts.
type record struct {
	contentType    ContentType
	version        [2]uint8
	epoch          uint16
	sequenceNumber uint64 // 48 bits on the wire
	fragment       []byte
}

func (r *record) marshal() []byte {
	b := make([]byte, recordHeaderLen+len(r.fragment))
	b[0] = byte(r.contentType)
	b[1], b[2] = r.version[0], r.version[1]
	binary.BigEndian.PutUint16(b[3:5], r.epoch)
	put48(b[5:11], r.sequenceNumber)
	binary.BigEndian.PutUint16(b[11:13], uint16(len(r.fragment)))
	copy(b[recordHeaderLen:], r.fragment)
	return b
}

func (r *record) unmarshal(b []byte) error {
	if len(b) < recordHeaderLen {
		return fmt.Errorf("dtls: record too short (%d bytes)", len(b))
	}
	r.contentType = ContentType(b[0])
	r.version = [2]uint8{b[1], b[2]}
	r.epoch = binary.BigEndian.Uint16(b[3:5])
	r.sequenceNumber = get48(b[5:11])
	length := binary.BigEndian.Uint16(b[11:13])
	if recordHeaderLen+int(length) != len(b) {
		return fmt.Errorf("dtls: record length mismatch: header says %d, got %d", length, len(b)-recordHeaderLen)
	}
	r.fragment = append([]byte(nil), b[recordHeaderLen:]...)
	return nil
}

// splitRecords splits a single UDP datagram into the zero or more DTLS
// records it may contain (a sender may coalesce several records into one
// datagram).
func splitRecords(b []byte) ([]record, error) {
	var records []record
	for len(b) > 0 {
		if len(b) < recordHeaderLen {
			return nil, fmt.Errorf("dtls: trailing %d bytes too short for a record header", len(b))
		}
		length := binary.BigEndian.Uint16(b[11:13])
		end := recordHeaderLen + int(length)
		if end > len(b) {
			return nil, fmt.Errorf("dtls: record claims length %d beyond datagram", length)
		}
		var r record
		if err := r.unmarshal(b[:end]); err != nil {
			return nil, err
		}
		records = append(records, r)
		b = b[end:]
	}
	return records, nil
}

// handshakeHeader is the 12-byte envelope shared by every DTLS handshake
// message (RFC 6347 §4.2.2), carrying the fragmentation and
// retransmission bookkeeping that distinguishes DTLS from TLS handshakes.
type handshakeHeader struct {
	messageType     HandshakeType
	length          uint32 // 24 bits on the wire
	messageSeq      uint16
	fragmentOffset  uint32 // 24 bits on the wire
	fragmentLength  uint32 // 24 bits on the wire
}

func (h *handshakeHeader) marshal() []byte {
	b := make([]byte, handshakeHeaderLen)
	b[0] = byte(h.messageType)
	put24(b[1:4], h.length)
	binary.BigEndian.PutUint16(b[4:6], h.messageSeq)
	put24(b[6:9], h.fragmentOffset)
	put24(b[9:12], h.fragmentLength)
	return b
}

func (h *handshakeHeader) unmarshal(b []byte) error {
	if len(b) < handshakeHeaderLen {
		return fmt.Errorf("dtls: handshake header too short (%d bytes)", len(b))
	}
	h.messageType = HandshakeType(b[0])
	h.length = get24(b[1:4])
	h.messageSeq = binary.BigEndian.Uint16(b[4:6])
	h.fragmentOffset = get24(b[6:9])
	h.fragmentLength = get24(b[9:12])
	return nil
}

// handshakeMessage is a fully reassembled (non-fragmented on the wire,
// since this engine never fragments outbound messages across records)
// handshake message: header plus body.
type handshakeMessage struct {
	handshakeHeader
	body []byte
}

func newHandshakeMessage(typ HandshakeType, seq uint16, body []byte) handshakeMessage {
	return handshakeMessage{
		handshakeHeader: handshakeHeader{
			messageType:    typ,
			length:         uint32(len(body)),
			messageSeq:     seq,
			fragmentOffset: 0,
			fragmentLength: uint32(len(body)),
		},
		body: body,
	}
}

func (m *handshakeMessage) marshal() []byte {
	return append(m.handshakeHeader.marshal(), m.body...)
}

func unmarshalHandshakeMessage(b []byte) (handshakeMessage, error) {
	var m handshakeMessage
	if err := m.handshakeHeader.unmarshal(b); err != nil {
		return m, err
	}
	if handshakeHeaderLen+int(m.length) != len(b) {
		return m, fmt.Errorf("dtls: handshake message length mismatch: header says %d, got %d", m.length, len(b)-handshakeHeaderLen)
	}
	if m.fragmentOffset != 0 || m.fragmentLength != m.length {
		return m, fmt.Errorf("dtls: fragmented handshake messages are not supported")
	}
	m.body = append([]byte(nil), b[handshakeHeaderLen:]...)
	return m, nil
}

// extension is one ClientHello/ServerHello extension (RFC 5246 §7.4.1.4):
// a 16-bit type, a 16-bit length, and an opaque body whose structure is
// type-specific.
type extension struct {
	extensionType ExtensionType
	data          []byte
}

func (e extension) marshal() []byte {
	b := make([]byte, 4+len(e.data))
	binary.BigEndian.PutUint16(b[0:2], uint16(e.extensionType))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(e.data)))
	copy(b[4:], e.data)
	return b
}

func marshalExtensions(exts []extension) []byte {
	var body []byte
	for _, e := range exts {
		body = append(body, e.marshal()...)
	}
	b := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(b[0:2], uint16(len(body)))
	copy(b[2:], body)
	return b
}

func parseExtensions(b []byte) ([]extension, error) {
	if len(b) < 2 {
		if len(b) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("dtls: truncated extensions block")
	}
	total := binary.BigEndian.Uint16(b[0:2])
	b = b[2:]
	if int(total) != len(b) {
		return nil, fmt.Errorf("dtls: extensions length mismatch: header says %d, got %d", total, len(b))
	}
	var exts []extension
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("dtls: truncated extension header")
		}
		typ := ExtensionType(binary.BigEndian.Uint16(b[0:2]))
		length := binary.BigEndian.Uint16(b[2:4])
		if int(length) > len(b)-4 {
			return nil, fmt.Errorf("dtls: extension %d claims length %d beyond remaining data", typ, length)
		}
		exts = append(exts, extension{extensionType: typ, data: append([]byte(nil), b[4:4+length]...)})
		b = b[4+length:]
	}
	return exts, nil
}

func findExtension(exts []extension, typ ExtensionType) ([]byte, bool) {
	for _, e := range exts {
		if e.extensionType == typ {
			return e.data, true
		}
	}
	return nil, false
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func put48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func get48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
