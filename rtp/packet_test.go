package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketMarshalUnmarshalRoundTrip(t *testing.T) {
	p := &Packet{
		Header: Header{
			Version:        Version,
			Marker:         true,
			PayloadType:    111,
			SequenceNumber: 1000,
			Timestamp:      48000,
			SSRC:           0xdeadbeef,
			CSRC:           []uint32{1, 2},
			Extensions: map[uint8][]byte{
				1: {0x01},
				2: {0xaa, 0xbb, 0xcc},
			},
		},
		Payload: []byte{0x01, 0x02, 0x03, 0x04},
	}

	buf, err := p.Marshal()
	require.NoError(t, err)

	out, err := Unmarshal(buf)
	require.NoError(t, err)

	assert.Equal(t, p.Version, out.Version)
	assert.Equal(t, p.Marker, out.Marker)
	assert.Equal(t, p.PayloadType, out.PayloadType)
	assert.Equal(t, p.SequenceNumber, out.SequenceNumber)
	assert.Equal(t, p.Timestamp, out.Timestamp)
	assert.Equal(t, p.SSRC, out.SSRC)
	assert.Equal(t, p.CSRC, out.CSRC)
	assert.Equal(t, p.Extensions, out.Extensions)
	assert.Equal(t, p.Payload, out.Payload)
}

func TestHeaderLenMatchesPayloadOffset(t *testing.T) {
	p := &Packet{
		Header: Header{
			Version:        Version,
			PayloadType:    111,
			SequenceNumber: 7,
			Timestamp:      1,
			SSRC:           1,
			CSRC:           []uint32{9},
			Extensions:     map[uint8][]byte{1: {0xff}},
		},
		Payload: []byte{0xde, 0xad},
	}
	buf, err := p.Marshal()
	require.NoError(t, err)

	n, err := HeaderLen(buf)
	require.NoError(t, err)
	assert.Equal(t, buf[n:], p.Payload)
}

func TestHeaderLenRejectsShortBuffer(t *testing.T) {
	_, err := HeaderLen([]byte{0x80, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPacketMarshalWithPadding(t *testing.T) {
	p := &Packet{
		Header: Header{
			Version:     Version,
			PayloadType: 0,
			Padding:     true,
			PaddingSize: 4,
		},
		Payload: []byte{0xff, 0xff},
	}
	buf, err := p.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(4), buf[len(buf)-1])

	out, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.True(t, out.Padding)
	assert.Equal(t, []byte{0xff, 0xff}, out.Payload)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	_, err := Unmarshal([]byte{0x80, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[0] = 0x00 // version 0
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClone(t *testing.T) {
	p := &Packet{
		Header:  Header{SequenceNumber: 7},
		Payload: []byte{1, 2, 3},
	}
	c := p.Clone()
	c.Payload[0] = 0xff
	assert.Equal(t, byte(1), p.Payload[0])
	assert.Equal(t, uint16(7), c.SequenceNumber)
}

func TestSequenceGreaterThan(t *testing.T) {
	assert.True(t, SequenceGreaterThan(2, 1))
	assert.False(t, SequenceGreaterThan(1, 2))
	assert.True(t, SequenceGreaterThan(1, 65535)) // wraparound
	assert.False(t, SequenceGreaterThan(65535, 1))
}

func TestTimestampGreaterThan(t *testing.T) {
	assert.True(t, TimestampGreaterThan(100, 50))
	assert.True(t, TimestampGreaterThan(10, 4294967290))
}

func TestBuildAndParseRTX(t *testing.T) {
	original := &Packet{
		Header: Header{
			Version:        Version,
			PayloadType:    96,
			SequenceNumber: 500,
			Timestamp:      12345,
			SSRC:           0x1111,
		},
		Payload: []byte{0xaa, 0xbb, 0xcc},
	}

	rtx := BuildRTX(original, 97, 0x2222, 10)
	assert.Equal(t, uint8(97), rtx.PayloadType)
	assert.Equal(t, uint32(0x2222), rtx.SSRC)
	assert.Equal(t, uint16(10), rtx.SequenceNumber)

	recovered, err := ParseRTX(rtx, 96, 0x1111)
	require.NoError(t, err)
	assert.Equal(t, original.Payload, recovered.Payload)
	assert.Equal(t, original.SequenceNumber, recovered.SequenceNumber)
	assert.Equal(t, original.PayloadType, recovered.PayloadType)
	assert.Equal(t, original.SSRC, recovered.SSRC)
}

func TestParseRTXTooShort(t *testing.T) {
	rtx := &Packet{Payload: []byte{0x01}}
	_, err := ParseRTX(rtx, 96, 0x1111)
	assert.ErrorIs(t, err, ErrMalformed)
}
