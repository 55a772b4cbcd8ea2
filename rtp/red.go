package rtp

import "encoding/binary"

// RED implements RFC 2198 redundant audio data framing. A RED payload packs
// one or more redundant encodings of prior frames, followed by the primary
// (most recent) encoding, so a single lost RTP packet can often be
// reconstructed from the next one received.
//
// Block header (all but last block), 4 bytes:
//
//	F(1)=1 | block PT(7) | timestamp offset(14) | block length(10)
//
// Last block header, 1 byte:
//
//	F(1)=0 | block PT(7)
type REDBlock struct {
	PayloadType uint8
	// TimestampOffset is how much earlier than the RED packet's own
	// timestamp this block's frame was encoded, in RTP clock-rate units.
	// Zero (and IsPrimary true) for the last, primary block.
	TimestampOffset uint32
	IsPrimary       bool
	Payload         []byte
}

// EncodeRED packs blocks (redundant blocks first, primary block last) into a
// single RED payload, per RFC 2198 §3.
func EncodeRED(blocks []REDBlock) []byte {
	headerSize := 0
	for i := range blocks {
		if i == len(blocks)-1 {
			headerSize++
		} else {
			headerSize += 4
		}
	}
	size := headerSize
	for _, b := range blocks {
		size += len(b.Payload)
	}
	buf := make([]byte, size)

	hoff := 0
	for i, b := range blocks {
		last := i == len(blocks)-1
		if last {
			buf[hoff] = b.PayloadType & 0x7f
			hoff++
		} else {
			buf[hoff] = 0x80 | (b.PayloadType & 0x7f)
			ts14 := b.TimestampOffset & 0x3fff
			length10 := uint32(len(b.Payload)) & 0x3ff
			binary.BigEndian.PutUint16(buf[hoff+1:hoff+3], uint16(ts14<<2|(length10>>8)))
			buf[hoff+3] = byte(length10 & 0xff)
			hoff += 4
		}
	}
	poff := hoff
	for _, b := range blocks {
		poff += copy(buf[poff:], b.Payload)
	}
	return buf
}

// DecodeRED unpacks a RED payload into its constituent blocks, in wire
// order (redundant blocks first, primary block last).
func DecodeRED(payload []byte) ([]REDBlock, error) {
	var headers []REDBlock
	offset := 0
	for {
		if offset >= len(payload) {
			return nil, ErrMalformed
		}
		first := payload[offset]
		if first&0x80 == 0 {
			headers = append(headers, REDBlock{PayloadType: first & 0x7f, IsPrimary: true})
			offset++
			break
		}
		if offset+4 > len(payload) {
			return nil, ErrMalformed
		}
		word := binary.BigEndian.Uint16(payload[offset+1 : offset+3])
		length := uint32(word&0x03)<<8 | uint32(payload[offset+3])
		headers = append(headers, REDBlock{
			PayloadType:     first & 0x7f,
			TimestampOffset: uint32(word) >> 2,
			Payload:         make([]byte, length),
		})
		offset += 4
	}

	for i := range headers {
		if headers[i].IsPrimary {
			headers[i].Payload = payload[offset:]
			continue
		}
		n := len(headers[i].Payload)
		if offset+n > len(payload) {
			return nil, ErrMalformed
		}
		copy(headers[i].Payload, payload[offset:offset+n])
		offset += n
	}
	return headers, nil
}

// DepacketizeRED reconstructs the individual RTP packets carried inside a
// RED packet. baseSeq/baseTimestamp are the RED packet's own sequence number
// and timestamp. Blocks are returned oldest-first, with sequence numbers and
// timestamps inferred by walking backward from the primary block: each
// earlier block is assumed to be exactly one sequence number behind the
// next, and its timestamp is baseTimestamp minus its RED timestamp offset.
func DepacketizeRED(pt uint8, baseSeq uint16, baseTimestamp uint32, ssrc uint32, payload []byte) ([]*Packet, error) {
	blocks, err := DecodeRED(payload)
	if err != nil {
		return nil, err
	}

	packets := make([]*Packet, len(blocks))
	for i, b := range blocks {
		seq := baseSeq - uint16(len(blocks)-1-i)
		ts := baseTimestamp
		if !b.IsPrimary {
			ts = baseTimestamp - b.TimestampOffset
		}
		packets[i] = &Packet{
			Header: Header{
				Version:        Version,
				PayloadType:    b.PayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: b.Payload,
		}
	}
	return packets, nil
}

// RedundancyDeduper suppresses RED blocks that reconstruct a sequence number
// already delivered, using a fixed-size ring of the 150 most recently seen
// sequence numbers.
type RedundancyDeduper struct {
	seen [150]uint16
	set  [150]bool
	next int
}

// Seen reports whether seq has already passed through the deduper, and
// records it either way.
func (d *RedundancyDeduper) Seen(seq uint16) bool {
	for i, ok := range d.set {
		if ok && d.seen[i] == seq {
			return true
		}
	}
	d.seen[d.next] = seq
	d.set[d.next] = true
	d.next = (d.next + 1) % len(d.seen)
	return false
}
