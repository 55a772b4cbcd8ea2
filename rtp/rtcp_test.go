package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderReportRoundTrip(t *testing.T) {
	sr := &SenderReport{
		SSRC:        0x1111,
		NTPTime:     0x00000002aaaaaaaa,
		RTPTime:     48000,
		PacketCount: 10,
		OctetCount:  1500,
		Reports: []ReceptionReport{
			{SSRC: 0x2222, FractionLost: 5, TotalLost: 12, LastSequenceNumber: 999, Jitter: 3},
		},
	}
	buf, err := sr.Marshal()
	require.NoError(t, err)

	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*SenderReport)
	assert.Equal(t, sr.SSRC, out.SSRC)
	assert.Equal(t, sr.NTPTime, out.NTPTime)
	assert.Equal(t, sr.PacketCount, out.PacketCount)
	require.Len(t, out.Reports, 1)
	assert.Equal(t, sr.Reports[0].SSRC, out.Reports[0].SSRC)
	assert.Equal(t, sr.Reports[0].TotalLost, out.Reports[0].TotalLost)
}

func TestReceiverReportRoundTrip(t *testing.T) {
	rr := &ReceiverReport{
		SSRC: 0x3333,
		Reports: []ReceptionReport{
			{SSRC: 0x4444, FractionLost: 255, TotalLost: 0xffffff},
		},
	}
	buf, err := rr.Marshal()
	require.NoError(t, err)

	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*ReceiverReport)
	assert.Equal(t, rr.SSRC, out.SSRC)
	assert.Equal(t, uint32(0xffffff), out.Reports[0].TotalLost)
}

func TestSourceDescriptionRoundTrip(t *testing.T) {
	sdes := &SourceDescription{SSRC: 0x5555, CNAME: "peer-cname-123"}
	buf, err := sdes.Marshal()
	require.NoError(t, err)
	assert.Equal(t, 0, len(buf)%4)

	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*SourceDescription)
	assert.Equal(t, sdes.SSRC, out.SSRC)
	assert.Equal(t, sdes.CNAME, out.CNAME)
}

func TestGoodbyeRoundTrip(t *testing.T) {
	bye := &Goodbye{Sources: []uint32{0x1, 0x2}, Reason: "done"}
	buf, err := bye.Marshal()
	require.NoError(t, err)

	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*Goodbye)
	assert.Equal(t, bye.Sources, out.Sources)
	assert.Equal(t, bye.Reason, out.Reason)
}

func TestCompoundPacket(t *testing.T) {
	sr := &SenderReport{SSRC: 1}
	sdes := &SourceDescription{SSRC: 1, CNAME: "x"}
	buf, err := MarshalCompoundRTCP([]RTCPPacket{sr, sdes})
	require.NoError(t, err)

	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	_, ok1 := packets[0].(*SenderReport)
	_, ok2 := packets[1].(*SourceDescription)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestNACKBuildAndExpand(t *testing.T) {
	lost := []uint16{100, 101, 103, 120}
	n := NewNACK(0xaaaa, 0xbbbb, lost)
	assert.Equal(t, lost, n.LostSequenceNumbers())

	buf, err := n.Marshal()
	require.NoError(t, err)
	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*NACK)
	assert.Equal(t, lost, out.LostSequenceNumbers())
}

func TestPictureLossIndicationRoundTrip(t *testing.T) {
	pli := &PictureLossIndication{Sender: 1, Media: 2}
	buf, err := pli.Marshal()
	require.NoError(t, err)
	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*PictureLossIndication)
	assert.Equal(t, pli.Sender, out.Sender)
	assert.Equal(t, pli.Media, out.Media)
}

func TestFullIntraRequestRoundTrip(t *testing.T) {
	fir := &FullIntraRequest{
		Sender:  1,
		Entries: []FIREntry{{SSRC: 0xaa, SequenceNumber: 3}, {SSRC: 0xbb, SequenceNumber: 7}},
	}
	buf, err := fir.Marshal()
	require.NoError(t, err)
	packets, err := UnmarshalRTCP(buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	out := packets[0].(*FullIntraRequest)
	assert.Equal(t, fir.Entries, out.Entries)
}
