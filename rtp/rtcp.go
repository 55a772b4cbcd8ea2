package rtp

import (
	"encoding/binary"
)

// RTCP packet types (RFC 3550 §6, RFC 4585 §6).
const (
	TypeSenderReport              = 200
	TypeReceiverReport            = 201
	TypeSourceDescription         = 202
	TypeGoodbye                   = 203
	TypeApplicationDefined        = 204
	TypeTransportLayerFeedback    = 205
	TypePayloadSpecificFeedback   = 206
)

// RTPFB (TypeTransportLayerFeedback) formats.
const (
	FormatNACK = 1
	FormatTWCC = 15
)

// PSFB (TypePayloadSpecificFeedback) formats.
const (
	FormatPLI = 1
	FormatFIR = 4
)

const rtcpHeaderSize = 4
const reportBlockSize = 24

// header is the common 4-byte prefix shared by every RTCP packet.
type header struct {
	padding    bool
	count      uint8 // report count, or FMT for feedback packets
	packetType uint8
	length     uint16 // length in 32-bit words, minus one
}

func (h header) marshalTo(buf []byte) {
	buf[0] = Version<<6 | boolBit(h.padding)<<5 | h.count&0x1f
	buf[1] = h.packetType
	binary.BigEndian.PutUint16(buf[2:4], h.length)
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < rtcpHeaderSize {
		return header{}, ErrMalformed
	}
	if buf[0]>>6 != Version {
		return header{}, ErrMalformed
	}
	return header{
		padding:    buf[0]&0x20 != 0,
		count:      buf[0] & 0x1f,
		packetType: buf[1],
		length:     binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}

// RTCPPacket is any RTCP packet this package knows how to serialize. Named
// distinctly from the RTP Packet struct in packet.go since both live in
// this package.
type RTCPPacket interface {
	Marshal() ([]byte, error)
}

// MarshalCompoundRTCP concatenates the wire form of each packet into a
// single compound RTCP packet, in the order given.
func MarshalCompoundRTCP(packets []RTCPPacket) ([]byte, error) {
	var out []byte
	for _, p := range packets {
		b, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// UnmarshalRTCP parses a (possibly compound) RTCP packet, returning each
// constituent packet in wire order. Unrecognized packet types are skipped
// rather than rejected, so a peer advertising extensions we don't implement
// doesn't sour the whole compound packet.
func UnmarshalRTCP(buf []byte) ([]RTCPPacket, error) {
	var packets []RTCPPacket
	for len(buf) > 0 {
		h, err := parseHeader(buf)
		if err != nil {
			return nil, err
		}
		end := rtcpHeaderSize + int(h.length)*4
		if end > len(buf) {
			return nil, ErrMalformed
		}
		body := buf[rtcpHeaderSize:end]

		var p RTCPPacket
		switch h.packetType {
		case TypeSenderReport:
			p, err = parseSenderReport(h, body)
		case TypeReceiverReport:
			p, err = parseReceiverReport(h, body)
		case TypeSourceDescription:
			p, err = parseSourceDescription(h, body)
		case TypeGoodbye:
			p, err = parseGoodbye(h, body)
		case TypeTransportLayerFeedback:
			switch h.count {
			case FormatNACK:
				p, err = parseNACK(h, body)
			case FormatTWCC:
				p, err = parseTransportLayerCC(h, body)
			}
		case TypePayloadSpecificFeedback:
			switch h.count {
			case FormatPLI:
				p, err = parsePictureLossIndication(h, body)
			case FormatFIR:
				p, err = parseFullIntraRequest(h, body)
			}
		}
		if err != nil {
			return nil, err
		}
		if p != nil {
			packets = append(packets, p)
		}
		buf = buf[end:]
	}
	return packets, nil
}

// ReceptionReport is a single report block carried in an SR or RR (RFC 3550
// §6.4.1).
type ReceptionReport struct {
	SSRC                       uint32
	FractionLost               uint8
	TotalLost                  uint32 // 24-bit
	LastSequenceNumber         uint32 // extended highest sequence number received
	Jitter                     uint32
	LastSenderReport           uint32 // middle 32 bits of the NTP timestamp of the last SR
	DelaySinceLastSenderReport uint32 // in units of 1/65536 seconds
}

func (r ReceptionReport) marshalTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], r.SSRC)
	buf[4] = r.FractionLost
	putUint24(buf[5:8], r.TotalLost)
	binary.BigEndian.PutUint32(buf[8:12], r.LastSequenceNumber)
	binary.BigEndian.PutUint32(buf[12:16], r.Jitter)
	binary.BigEndian.PutUint32(buf[16:20], r.LastSenderReport)
	binary.BigEndian.PutUint32(buf[20:24], r.DelaySinceLastSenderReport)
}

func parseReceptionReport(buf []byte) ReceptionReport {
	return ReceptionReport{
		SSRC:                       binary.BigEndian.Uint32(buf[0:4]),
		FractionLost:               buf[4],
		TotalLost:                  getUint24(buf[5:8]),
		LastSequenceNumber:         binary.BigEndian.Uint32(buf[8:12]),
		Jitter:                     binary.BigEndian.Uint32(buf[12:16]),
		LastSenderReport:           binary.BigEndian.Uint32(buf[16:20]),
		DelaySinceLastSenderReport: binary.BigEndian.Uint32(buf[20:24]),
	}
}

// SenderReport is an RTCP SR packet (RFC 3550 §6.4.1).
type SenderReport struct {
	SSRC        uint32
	NTPTime     uint64 // full 64-bit NTP timestamp
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReceptionReport
}

func (p *SenderReport) Marshal() ([]byte, error) {
	if len(p.Reports) > 31 {
		return nil, ErrMalformed
	}
	bodyLen := 24 + len(p.Reports)*reportBlockSize
	buf := make([]byte, rtcpHeaderSize+bodyLen)
	header{packetType: TypeSenderReport, count: uint8(len(p.Reports)), length: uint16(bodyLen / 4)}.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	binary.BigEndian.PutUint64(buf[8:16], p.NTPTime)
	binary.BigEndian.PutUint32(buf[16:20], p.RTPTime)
	binary.BigEndian.PutUint32(buf[20:24], p.PacketCount)
	binary.BigEndian.PutUint32(buf[24:28], p.OctetCount)
	off := 28
	for _, r := range p.Reports {
		r.marshalTo(buf[off:])
		off += reportBlockSize
	}
	return buf, nil
}

func parseSenderReport(h header, body []byte) (*SenderReport, error) {
	if len(body) < 24 || len(body) != 24+int(h.count)*reportBlockSize {
		return nil, ErrMalformed
	}
	p := &SenderReport{
		SSRC:        binary.BigEndian.Uint32(body[0:4]),
		NTPTime:     binary.BigEndian.Uint64(body[4:12]),
		RTPTime:     binary.BigEndian.Uint32(body[12:16]),
		PacketCount: binary.BigEndian.Uint32(body[16:20]),
		OctetCount:  binary.BigEndian.Uint32(body[20:24]),
	}
	off := 24
	for i := uint8(0); i < h.count; i++ {
		p.Reports = append(p.Reports, parseReceptionReport(body[off:]))
		off += reportBlockSize
	}
	return p, nil
}

// ReceiverReport is an RTCP RR packet (RFC 3550 §6.4.2).
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReceptionReport
}

func (p *ReceiverReport) Marshal() ([]byte, error) {
	if len(p.Reports) > 31 {
		return nil, ErrMalformed
	}
	bodyLen := 4 + len(p.Reports)*reportBlockSize
	buf := make([]byte, rtcpHeaderSize+bodyLen)
	header{packetType: TypeReceiverReport, count: uint8(len(p.Reports)), length: uint16(bodyLen / 4)}.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	off := 8
	for _, r := range p.Reports {
		r.marshalTo(buf[off:])
		off += reportBlockSize
	}
	return buf, nil
}

func parseReceiverReport(h header, body []byte) (*ReceiverReport, error) {
	if len(body) < 4 || len(body) != 4+int(h.count)*reportBlockSize {
		return nil, ErrMalformed
	}
	p := &ReceiverReport{SSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 4
	for i := uint8(0); i < h.count; i++ {
		p.Reports = append(p.Reports, parseReceptionReport(body[off:]))
		off += reportBlockSize
	}
	return p, nil
}

const (
	sdesCNAME = 1
	sdesEnd   = 0
)

// SourceDescription is an RTCP SDES packet (RFC 3550 §6.5). Only CNAME is
// produced/consumed; other SDES item types are out of scope.
type SourceDescription struct {
	SSRC  uint32
	CNAME string
}

func (p *SourceDescription) Marshal() ([]byte, error) {
	itemLen := 2 + len(p.CNAME) + 1 // type+len+text, plus the terminating NULL item
	chunkLen := 4 + itemLen
	padded := (chunkLen + 3) / 4 * 4
	bodyLen := padded
	buf := make([]byte, rtcpHeaderSize+bodyLen)
	header{packetType: TypeSourceDescription, count: 1, length: uint16(bodyLen / 4)}.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	off := 8
	buf[off] = sdesCNAME
	buf[off+1] = uint8(len(p.CNAME))
	off += 2
	off += copy(buf[off:], p.CNAME)
	buf[off] = sdesEnd // remaining bytes are already zero (alignment padding)
	return buf, nil
}

func parseSourceDescription(h header, body []byte) (*SourceDescription, error) {
	if h.count != 1 || len(body) < 4 {
		return nil, ErrMalformed
	}
	p := &SourceDescription{SSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 4
	for off < len(body) {
		what := body[off]
		if what == sdesEnd {
			break
		}
		if off+2 > len(body) {
			return nil, ErrMalformed
		}
		n := int(body[off+1])
		off += 2
		if off+n > len(body) {
			return nil, ErrMalformed
		}
		if what == sdesCNAME {
			p.CNAME = string(body[off : off+n])
		}
		off += n
	}
	return p, nil
}

// Goodbye is an RTCP BYE packet (RFC 3550 §6.6).
type Goodbye struct {
	Sources []uint32
	Reason  string
}

func (p *Goodbye) Marshal() ([]byte, error) {
	if len(p.Sources) == 0 || len(p.Sources) > 31 {
		return nil, ErrMalformed
	}
	bodyLen := 4 * len(p.Sources)
	if p.Reason != "" {
		bodyLen += 1 + len(p.Reason)
	}
	padded := (bodyLen + 3) / 4 * 4
	buf := make([]byte, rtcpHeaderSize+padded)
	header{packetType: TypeGoodbye, count: uint8(len(p.Sources)), length: uint16(padded / 4)}.marshalTo(buf)

	off := 4
	for _, ssrc := range p.Sources {
		binary.BigEndian.PutUint32(buf[off:], ssrc)
		off += 4
	}
	if p.Reason != "" {
		buf[off] = uint8(len(p.Reason))
		off++
		off += copy(buf[off:], p.Reason)
	}
	return buf, nil
}

func parseGoodbye(h header, body []byte) (*Goodbye, error) {
	n := int(h.count)
	if len(body) < 4*n {
		return nil, ErrMalformed
	}
	p := &Goodbye{}
	off := 0
	for i := 0; i < n; i++ {
		p.Sources = append(p.Sources, binary.BigEndian.Uint32(body[off:]))
		off += 4
	}
	if off < len(body) {
		l := int(body[off])
		off++
		if off+l > len(body) {
			return nil, ErrMalformed
		}
		p.Reason = string(body[off : off+l])
	}
	return p, nil
}

// NACK is a generic transport-layer feedback packet requesting
// retransmission of lost packets (RFC 4585 §6.2.1).
type NACK struct {
	Sender uint32
	Media  uint32
	Pairs  []NACKPair
}

// NACKPair is one packet-ID/bitmask-of-following-losses pair.
type NACKPair struct {
	PacketID    uint16
	LostPackets uint16 // bitmask: bit i set means PacketID+i+1 is also lost
}

// NewNACK builds a NACK covering the given lost sequence numbers, which
// must be sorted ascending. Runs of losses spanning more than 17 contiguous
// sequence numbers are split across multiple pairs.
func NewNACK(sender, media uint32, lost []uint16) *NACK {
	n := &NACK{Sender: sender, Media: media}
	i := 0
	for i < len(lost) {
		pair := NACKPair{PacketID: lost[i]}
		i++
		for i < len(lost) {
			bit := lost[i] - pair.PacketID - 1
			if bit >= 16 {
				break
			}
			pair.LostPackets |= 1 << bit
			i++
		}
		n.Pairs = append(n.Pairs, pair)
	}
	return n
}

// LostSequenceNumbers expands the NACK's pairs into the full list of
// missing sequence numbers.
func (n *NACK) LostSequenceNumbers() []uint16 {
	var lost []uint16
	for _, pair := range n.Pairs {
		lost = append(lost, pair.PacketID)
		mask := pair.LostPackets
		seq := pair.PacketID + 1
		for mask != 0 {
			if mask&1 != 0 {
				lost = append(lost, seq)
			}
			seq++
			mask >>= 1
		}
	}
	return lost
}

func (p *NACK) Marshal() ([]byte, error) {
	if len(p.Pairs) == 0 {
		return nil, ErrMalformed
	}
	bodyLen := 8 + 4*len(p.Pairs)
	buf := make([]byte, rtcpHeaderSize+bodyLen)
	header{packetType: TypeTransportLayerFeedback, count: FormatNACK, length: uint16(bodyLen / 4)}.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.Sender)
	binary.BigEndian.PutUint32(buf[8:12], p.Media)
	off := 12
	for _, pair := range p.Pairs {
		binary.BigEndian.PutUint16(buf[off:], pair.PacketID)
		binary.BigEndian.PutUint16(buf[off+2:], pair.LostPackets)
		off += 4
	}
	return buf, nil
}

func parseNACK(h header, body []byte) (*NACK, error) {
	if len(body) < 8 || (len(body)-8)%4 != 0 {
		return nil, ErrMalformed
	}
	p := &NACK{
		Sender: binary.BigEndian.Uint32(body[0:4]),
		Media:  binary.BigEndian.Uint32(body[4:8]),
	}
	for off := 8; off < len(body); off += 4 {
		p.Pairs = append(p.Pairs, NACKPair{
			PacketID:    binary.BigEndian.Uint16(body[off:]),
			LostPackets: binary.BigEndian.Uint16(body[off+2:]),
		})
	}
	return p, nil
}

// PictureLossIndication asks the sender for a full keyframe after a
// decoder-corrupting loss (RFC 4585 §6.3.1).
type PictureLossIndication struct {
	Sender uint32
	Media  uint32
}

func (p *PictureLossIndication) Marshal() ([]byte, error) {
	buf := make([]byte, rtcpHeaderSize+8)
	header{packetType: TypePayloadSpecificFeedback, count: FormatPLI, length: 2}.marshalTo(buf)
	binary.BigEndian.PutUint32(buf[4:8], p.Sender)
	binary.BigEndian.PutUint32(buf[8:12], p.Media)
	return buf, nil
}

func parsePictureLossIndication(h header, body []byte) (*PictureLossIndication, error) {
	if len(body) != 8 {
		return nil, ErrMalformed
	}
	return &PictureLossIndication{
		Sender: binary.BigEndian.Uint32(body[0:4]),
		Media:  binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// FullIntraRequest asks one or more media sources for a keyframe, each
// tagged with a sequence number so duplicate requests can be detected
// (RFC 5104 §4.3.1).
type FullIntraRequest struct {
	Sender  uint32
	Entries []FIREntry
}

type FIREntry struct {
	SSRC           uint32
	SequenceNumber uint8
}

func (p *FullIntraRequest) Marshal() ([]byte, error) {
	if len(p.Entries) == 0 {
		return nil, ErrMalformed
	}
	bodyLen := 4 + 8*len(p.Entries)
	buf := make([]byte, rtcpHeaderSize+bodyLen)
	header{packetType: TypePayloadSpecificFeedback, count: FormatFIR, length: uint16(bodyLen / 4)}.marshalTo(buf)

	binary.BigEndian.PutUint32(buf[4:8], p.Sender)
	off := 8
	for _, e := range p.Entries {
		binary.BigEndian.PutUint32(buf[off:], e.SSRC)
		buf[off+4] = e.SequenceNumber
		off += 8
	}
	return buf, nil
}

func parseFullIntraRequest(h header, body []byte) (*FullIntraRequest, error) {
	if len(body) < 4 || (len(body)-4)%8 != 0 {
		return nil, ErrMalformed
	}
	p := &FullIntraRequest{Sender: binary.BigEndian.Uint32(body[0:4])}
	for off := 4; off < len(body); off += 8 {
		p.Entries = append(p.Entries, FIREntry{
			SSRC:           binary.BigEndian.Uint32(body[off:]),
			SequenceNumber: body[off+4],
		})
	}
	return p, nil
}

func putUint24(buf []byte, v uint32) {
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
}

func getUint24(buf []byte) uint32 {
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}
