package rtp

import "encoding/binary"

// Transport-wide congestion control feedback (RTPFB format 15), per
// draft-holmer-rmcat-transport-wide-cc-extensions-01. This file encodes and
// decodes the feedback packet only: no part of the engine stamps a
// transport-sequence-number header extension on outgoing packets or builds
// this feedback from inbound ones.

// PacketStatus is the per-packet delivery status carried in a
// TransportLayerCC chunk.
type PacketStatus uint8

const (
	StatusNotReceived PacketStatus = iota
	StatusReceivedSmallDelta
	StatusReceivedLargeDelta
)

// PacketResult pairs a transport-wide sequence number with its observed
// delivery status and, if received, its arrival delta from the previous
// received packet, in 250us ticks.
type PacketResult struct {
	SequenceNumber uint16
	Status         PacketStatus
	Delta          int16 // valid only when Status != StatusNotReceived
}

// TransportLayerCC is an RTPFB TWCC feedback packet (RTPFB format 15).
type TransportLayerCC struct {
	Sender          uint32
	Media           uint32
	BaseSequence    uint16
	ReferenceTime   uint32 // units of 64ms
	FeedbackCount   uint8
	PacketStatuses  []PacketResult
}

const (
	chunkTypeRunLength    = 0
	chunkTypeStatusVector = 1
	symbolSizeOneBit      = 0
	symbolSizeTwoBit      = 1
)

// Marshal serializes the feedback packet, run-length-encoding consecutive
// identical statuses and falling back to two-bit status-vector chunks for
// short runs of mixed statuses.
func (p *TransportLayerCC) Marshal() ([]byte, error) {
	if len(p.PacketStatuses) == 0 {
		return nil, ErrMalformed
	}

	var chunks []uint16
	var deltas []byte

	i := 0
	for i < len(p.PacketStatuses) {
		run := 1
		for i+run < len(p.PacketStatuses) && p.PacketStatuses[i+run].Status == p.PacketStatuses[i].Status && run < 0x1fff {
			run++
		}
		if run >= 7 {
			chunks = append(chunks, runLengthChunk(p.PacketStatuses[i].Status, uint16(run)))
			deltas = appendDeltas(deltas, p.PacketStatuses[i:i+run])
			i += run
			continue
		}

		// Short run: emit up to 7 statuses per two-bit status-vector chunk.
		n := run
		for n < len(p.PacketStatuses)-i && n < 7 {
			// Absorb more entries into this vector chunk as long as doing so
			// doesn't just recreate a long run we'd rather run-length-encode.
			next := i + n
			nextRun := 1
			for next+nextRun < len(p.PacketStatuses) && p.PacketStatuses[next+nextRun].Status == p.PacketStatuses[next].Status && nextRun < 7 {
				nextRun++
			}
			if nextRun >= 7 {
				break
			}
			n++
		}
		chunk := uint16(0)
		for j := 0; j < n; j++ {
			chunk = setBits(chunk, 2, 2+2*uint16(j), uint16(p.PacketStatuses[i+j].Status))
		}
		chunk = setBits(chunk, 1, 0, chunkTypeStatusVector)
		chunk = setBits(chunk, 1, 1, symbolSizeTwoBit)
		chunks = append(chunks, chunk)
		deltas = appendDeltas(deltas, p.PacketStatuses[i:i+n])
		i += n
	}

	headerLen := 20
	chunkLen := 2 * len(chunks)
	bodyLen := headerLen - rtcpHeaderSize + chunkLen + len(deltas)
	padded := (bodyLen + 3) / 4 * 4
	buf := make([]byte, rtcpHeaderSize+padded)
	hdr := header{packetType: TypeTransportLayerFeedback, count: FormatTWCC, length: uint16(padded / 4)}
	if padded != bodyLen {
		hdr.padding = true
	}
	hdr.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.Sender)
	binary.BigEndian.PutUint32(buf[8:12], p.Media)
	binary.BigEndian.PutUint16(buf[12:14], p.BaseSequence)
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.PacketStatuses)))
	binary.BigEndian.PutUint32(buf[16:20], p.ReferenceTime<<8|uint32(p.FeedbackCount))

	off := 20
	for _, c := range chunks {
		binary.BigEndian.PutUint16(buf[off:], c)
		off += 2
	}
	off += copy(buf[off:], deltas)
	if hdr.padding {
		buf[len(buf)-1] = byte(padded - bodyLen)
	}
	return buf, nil
}

func appendDeltas(deltas []byte, statuses []PacketResult) []byte {
	for _, s := range statuses {
		switch s.Status {
		case StatusReceivedSmallDelta:
			deltas = append(deltas, byte(s.Delta))
		case StatusReceivedLargeDelta:
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(s.Delta))
			deltas = append(deltas, b[:]...)
		}
	}
	return deltas
}

func runLengthChunk(status PacketStatus, run uint16) uint16 {
	return uint16(status) << 13 & 0x6000 | run&0x1fff
}

func setBits(src uint16, size, startIndex, val uint16) uint16 {
	val &= (1 << size) - 1
	return src | (val << (16 - size - startIndex))
}

func parseTransportLayerCC(h header, body []byte) (*TransportLayerCC, error) {
	if len(body) < 16 {
		return nil, ErrMalformed
	}
	p := &TransportLayerCC{
		Sender:        binary.BigEndian.Uint32(body[0:4]),
		Media:         binary.BigEndian.Uint32(body[4:8]),
		BaseSequence:  binary.BigEndian.Uint16(body[8:10]),
	}
	statusCount := int(binary.BigEndian.Uint16(body[10:12]))
	refAndCount := binary.BigEndian.Uint32(body[12:16])
	p.ReferenceTime = refAndCount >> 8
	p.FeedbackCount = uint8(refAndCount)

	var statuses []PacketStatus
	off := 16
	for len(statuses) < statusCount {
		if off+2 > len(body) {
			return nil, ErrMalformed
		}
		chunk := binary.BigEndian.Uint16(body[off:])
		off += 2
		if chunk>>15 == chunkTypeRunLength {
			status := PacketStatus((chunk >> 13) & 0x3)
			run := int(chunk & 0x1fff)
			for i := 0; i < run; i++ {
				statuses = append(statuses, status)
			}
		} else {
			symbolSize := (chunk >> 14) & 0x1
			if symbolSize == symbolSizeOneBit {
				for i := 0; i < 14; i++ {
					bit := (chunk >> (13 - i)) & 0x1
					statuses = append(statuses, PacketStatus(bit))
				}
			} else {
				for i := 0; i < 7; i++ {
					sym := (chunk >> (12 - 2*i)) & 0x3
					statuses = append(statuses, PacketStatus(sym))
				}
			}
		}
	}
	statuses = statuses[:statusCount]

	for _, status := range statuses {
		pr := PacketResult{Status: status}
		switch status {
		case StatusReceivedSmallDelta:
			if off+1 > len(body) {
				return nil, ErrMalformed
			}
			pr.Delta = int16(body[off])
			off++
		case StatusReceivedLargeDelta:
			if off+2 > len(body) {
				return nil, ErrMalformed
			}
			pr.Delta = int16(binary.BigEndian.Uint16(body[off:]))
			off += 2
		}
		p.PacketStatuses = append(p.PacketStatuses, pr)
	}
	for i := range p.PacketStatuses {
		p.PacketStatuses[i].SequenceNumber = p.BaseSequence + uint16(i)
	}

	return p, nil
}
