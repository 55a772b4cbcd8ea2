package alohartc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohartc/jitter"
	"github.com/lanikai/alohartc/rtp"
	"github.com/lanikai/alohartc/sdp"
	"github.com/lanikai/alohartc/track"
)

func vp8Codec() sdp.Codec {
	return sdp.Codec{Name: "VP8", ClockRate: 90000, RTCPFeedback: []string{"nack", "nack pli"}}
}

func vp8WithRTX() []sdp.Codec {
	c := vp8Codec()
	c.RTXPayloadType = 1 // sentinel: "enable RTX"; assignPayloadTypes renumbers it
	return []sdp.Codec{c}
}

func TestNewTransceiverAssignsPayloadTypesAndSSRC(t *testing.T) {
	tr := newTransceiver(track.KindVideo, sdp.DirectionSendRecv, nil, []sdp.Codec{vp8Codec()}, "0")

	require.Len(t, tr.codecs, 1)
	assert.EqualValues(t, dynamicPayloadTypeBase, tr.codecs[0].PayloadType)
	assert.NotZero(t, tr.ssrc)
	assert.Zero(t, tr.rtxSSRC, "no RTX requested, no RTX SSRC assigned")
	assert.NotEmpty(t, tr.cname)
}

func TestNewTransceiverWithRTXAssignsSecondPayloadTypeAndSSRC(t *testing.T) {
	tr := newTransceiver(track.KindVideo, sdp.DirectionSendRecv, nil, vp8WithRTX(), "0")

	require.Len(t, tr.codecs, 1)
	assert.EqualValues(t, dynamicPayloadTypeBase, tr.codecs[0].PayloadType)
	assert.EqualValues(t, dynamicPayloadTypeBase+1, tr.codecs[0].RTXPayloadType)
	assert.NotZero(t, tr.rtxSSRC)
	assert.NotEqual(t, tr.ssrc, tr.rtxSSRC)
}

func TestAssignPayloadTypesAcrossMultipleCodecs(t *testing.T) {
	codecs := assignPayloadTypes(vp8WithRTX())
	require.Len(t, codecs, 1)
	assert.EqualValues(t, 96, codecs[0].PayloadType)
	assert.EqualValues(t, 97, codecs[0].RTXPayloadType)
}

func TestTransceiverMediaDescriptionRoundTrip(t *testing.T) {
	tr := newTransceiver(track.KindAudio, sdp.DirectionSendOnly, nil, []sdp.Codec{
		{Name: "opus", ClockRate: 48000, Channels: 2},
	}, "3")

	md := tr.mediaDescription()
	assert.Equal(t, "3", md.MID)
	assert.Equal(t, "audio", md.Kind)
	assert.Equal(t, sdp.DirectionSendOnly, md.Direction)
	assert.Equal(t, tr.ssrc, md.SSRC)
	assert.Equal(t, tr.cname, md.CNAME)
}

func TestHandleInboundWithoutJitterBufferDeliversDirectly(t *testing.T) {
	tr := newTransceiver(track.KindAudio, sdp.DirectionRecvOnly, nil, []sdp.Codec{
		{Name: "opus", ClockRate: 48000},
	}, "0")
	tr.remote = track.New(track.KindAudio, "cname", "0")
	ch := tr.remote.RawRTP(1)

	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Timestamp: 1000}}
	losses := tr.handleInbound(pkt, 0)
	assert.Nil(t, losses)

	select {
	case got := <-ch:
		assert.Equal(t, pkt, got)
	default:
		t.Fatal("expected packet delivered directly to remote track")
	}
}

func TestHandleInboundCalibratesClockOffsetOnce(t *testing.T) {
	tr := newTransceiver(track.KindVideo, sdp.DirectionRecvOnly, nil, []sdp.Codec{vp8Codec()}, "0")
	tr.remote = track.New(track.KindVideo, "cname", "0")
	tr.jitterBuf = jitter.New(90000, 100, 64)

	first := &rtp.Packet{Header: rtp.Header{SequenceNumber: 10, Timestamp: 5000}}
	tr.handleInbound(first, 100)
	require.True(t, tr.clockCalibrated)
	offset := tr.clockOffset
	assert.Equal(t, uint32(5000-100), offset)

	second := &rtp.Packet{Header: rtp.Header{SequenceNumber: 11, Timestamp: 5900}}
	tr.handleInbound(second, 1000)
	assert.Equal(t, offset, tr.clockOffset, "offset fixed at first packet, never recalculated")
}
