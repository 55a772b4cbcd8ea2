package nack

import "github.com/lanikai/alohartc/rtp"

// bufferSize is the number of most-recently-sent packets retained for
// retransmission.
const bufferSize = 128

// RetransmitBuffer holds the last bufferSize packets sent on one outbound
// stream, indexed by seq mod bufferSize, so a NACK can be answered without
// a full replay log.
type RetransmitBuffer struct {
	slots [bufferSize]*rtp.Packet
}

// Store records pkt as the most recently sent packet for its sequence
// number, overwriting whatever previously occupied that slot.
func (b *RetransmitBuffer) Store(pkt *rtp.Packet) {
	b.slots[pkt.SequenceNumber%bufferSize] = pkt
}

// Lookup returns the stored packet for seq, or nil if it has been
// overwritten (evicted) or was never sent — the caller must silently skip
// unknown sequence numbers.
func (b *RetransmitBuffer) Lookup(seq uint16) *rtp.Packet {
	pkt := b.slots[seq%bufferSize]
	if pkt == nil || pkt.SequenceNumber != seq {
		return nil
	}
	return pkt
}

// Retransmitter resends packets requested by inbound NACKs, optionally
// encapsulating them as RTX (RFC 4588) when an RTX PT/SSRC pair is
// configured.
type Retransmitter struct {
	buffer *RetransmitBuffer

	RTXPayloadType uint8
	RTXSSRC        uint32
	useRTX         bool

	nextRTXSeq uint16
}

// NewRetransmitter creates a Retransmitter over buffer. If rtxSSRC is
// nonzero, outgoing retransmissions are RTX-encapsulated; otherwise the
// original packet is resent unmodified (rtcp-mux bare retransmission).
func NewRetransmitter(buffer *RetransmitBuffer, rtxPayloadType uint8, rtxSSRC uint32) *Retransmitter {
	return &Retransmitter{
		buffer:         buffer,
		RTXPayloadType: rtxPayloadType,
		RTXSSRC:        rtxSSRC,
		useRTX:         rtxSSRC != 0,
	}
}

// Handle resolves a received NACK into the set of packets to resend, in
// the order requested. Sequence numbers no longer in the buffer are
// silently skipped.
func (r *Retransmitter) Handle(n *rtp.NACK) []*rtp.Packet {
	var out []*rtp.Packet
	for _, seq := range n.LostSequenceNumbers() {
		pkt := r.buffer.Lookup(seq)
		if pkt == nil {
			continue
		}
		if r.useRTX {
			pkt = rtp.BuildRTX(pkt, r.RTXPayloadType, r.RTXSSRC, r.nextRTXSeq)
			r.nextRTXSeq++
		}
		out = append(out, pkt)
	}
	return out
}
