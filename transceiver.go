package alohartc

import (
	"github.com/google/uuid"

	"github.com/lanikai/alohartc/jitter"
	"github.com/lanikai/alohartc/nack"
	"github.com/lanikai/alohartc/rtp"
	"github.com/lanikai/alohartc/rtpsession"
	"github.com/lanikai/alohartc/sdp"
	"github.com/lanikai/alohartc/svc"
	"github.com/lanikai/alohartc/track"
)

// dynamicPayloadTypeBase is the first payload type number this engine
// assigns codecs, per RFC 3551 §3's dynamic range (96-127); RTX shadow
// streams take the next number after their original codec.
const dynamicPayloadTypeBase = 96

// Transceiver pairs one negotiated m-section (MID, codecs, direction) with
// the local Track it sends from and/or the remote Track it synthesizes for
// inbound media, plus the live session state built once the connection is
// established.
type Transceiver struct {
	mid       string
	kind      track.Kind
	direction sdp.Direction
	codecs    []sdp.Codec

	local  *track.Track // non-nil if this transceiver can send
	remote *track.Track // non-nil once an inbound SSRC is seen (recv direction)

	ssrc    uint32
	rtxSSRC uint32
	cname   string

	// remoteSSRC/remoteRTXSSRC are read from the remote m-section's
	// a=ssrc-group FID line (or its first a=ssrc line) once negotiated, and
	// used to route inbound RTP/RTCP on the shared bundle transport to this
	// transceiver.
	remoteSSRC    uint32
	remoteRTXSSRC uint32

	session *rtpsession.Session // nil until the connection is established

	jitterBuf    *jitter.Buffer
	nackReceiver *nack.Receiver
	svcFilter    *svc.Filter

	// clockOffset aligns the receiver's own arrival clock to the sender's
	// RTP media timestamp epoch, fixed at the first inbound packet. Only
	// the jitter buffer's age-out check needs this; the jitter estimator
	// itself (RFC 3550 A.8) looks at differences between consecutive
	// samples, which cancels out any constant offset on its own.
	clockCalibrated bool
	clockOffset     uint32
}

func newTransceiver(kind track.Kind, direction sdp.Direction, local *track.Track, codecs []sdp.Codec, mid string) *Transceiver {
	t := &Transceiver{
		mid:       mid,
		kind:      kind,
		direction: direction,
		codecs:    assignPayloadTypes(codecs),
		local:     local,
		ssrc:      randomSSRC(),
		cname:     uuid.NewString(),
	}
	if hasRTX(t.codecs) {
		t.rtxSSRC = randomSSRC()
	}
	return t
}

// assignPayloadTypes numbers codecs (and their RTX shadow, if FMTP requests
// one via RTXPayloadType != 0 as a sentinel "enable RTX" flag) starting at
// dynamicPayloadTypeBase. Numbering starts again at the base for every
// transceiver, so two m-sections of the same SDP can carry the same
// payload type number.
func assignPayloadTypes(codecs []sdp.Codec) []sdp.Codec {
	out := make([]sdp.Codec, len(codecs))
	pt := uint8(dynamicPayloadTypeBase)
	for i, c := range codecs {
		c.PayloadType = pt
		pt++
		if c.RTXPayloadType != 0 {
			c.RTXPayloadType = pt
			pt++
		}
		out[i] = c
	}
	return out
}

func hasRTX(codecs []sdp.Codec) bool {
	for _, c := range codecs {
		if c.RTXPayloadType != 0 {
			return true
		}
	}
	return false
}

func (t *Transceiver) mediaDescription() sdp.MediaDescription {
	return sdp.MediaDescription{
		MID:       t.mid,
		Kind:      string(t.kind),
		Direction: t.direction,
		Codecs:    t.codecs,
		SSRC:      t.ssrc,
		RTXSSRC:   t.rtxSSRC,
		CNAME:     t.cname,
	}
}

// primaryPayloadType returns the first (non-RTX) codec's payload type,
// used as the default PayloadType a Forward call rewrites onto.
func (t *Transceiver) primaryPayloadType() uint8 {
	if len(t.codecs) == 0 {
		return 0
	}
	return t.codecs[0].PayloadType
}

func (t *Transceiver) rtxPayloadType() uint8 {
	if len(t.codecs) == 0 {
		return 0
	}
	return t.codecs[0].RTXPayloadType
}

// handleInbound feeds one decrypted RTP packet through the jitter buffer
// (and, for VP9, the SVC filter) before delivering contiguous packets to
// the transceiver's remote track.
func (t *Transceiver) handleInbound(pkt *rtp.Packet, arrivalClock uint32) []jitter.Loss {
	if t.nackReceiver != nil {
		t.nackReceiver.Received(pkt.SequenceNumber)
	}
	if t.jitterBuf == nil {
		if t.remote != nil {
			t.remote.Deliver(pkt)
		}
		return nil
	}
	if !t.clockCalibrated {
		t.clockOffset = pkt.Header.Timestamp - arrivalClock
		t.clockCalibrated = true
	}
	emit, losses := t.jitterBuf.Push((*jitterPacket)(pkt), arrivalClock+t.clockOffset)
	for _, jp := range emit {
		out := (*rtp.Packet)(jp.(*jitterPacket))
		if t.svcFilter != nil {
			if d, _, err := svc.ParseDescriptor(out.Payload); err == nil && !t.svcFilter.Process(d) {
				continue
			}
		}
		if t.remote != nil {
			t.remote.Deliver(out)
		}
	}
	return losses
}

// jitterPacket adapts *rtp.Packet to jitter.Packet without a wrapper
// allocation per packet.
type jitterPacket rtp.Packet

func (p *jitterPacket) Seq() uint16       { return p.Header.SequenceNumber }
func (p *jitterPacket) Timestamp() uint32 { return p.Header.Timestamp }
