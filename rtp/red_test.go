package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRED(t *testing.T) {
	blocks := []REDBlock{
		{PayloadType: 0, TimestampOffset: 320, Payload: []byte{0x01, 0x02}},
		{PayloadType: 0, TimestampOffset: 160, Payload: []byte{0x03, 0x04}},
		{PayloadType: 111, IsPrimary: true, Payload: []byte{0x05, 0x06, 0x07}},
	}

	payload := EncodeRED(blocks)
	decoded, err := DecodeRED(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	assert.Equal(t, uint8(0), decoded[0].PayloadType)
	assert.Equal(t, uint32(320), decoded[0].TimestampOffset)
	assert.Equal(t, []byte{0x01, 0x02}, decoded[0].Payload)

	assert.Equal(t, uint8(0), decoded[1].PayloadType)
	assert.Equal(t, uint32(160), decoded[1].TimestampOffset)

	assert.True(t, decoded[2].IsPrimary)
	assert.Equal(t, uint8(111), decoded[2].PayloadType)
	assert.Equal(t, []byte{0x05, 0x06, 0x07}, decoded[2].Payload)
}

// Matches the end-to-end scenario: a RED packet with block PTs [0, 0, 111],
// timestamp offsets [320, 160, absent], base seq 500, base ts 48000, yields
// three RTP packets with seqs [498, 499, 500] and timestamps
// [47680, 47840, 48000].
func TestDepacketizeRED(t *testing.T) {
	blocks := []REDBlock{
		{PayloadType: 0, TimestampOffset: 320, Payload: []byte{0xaa}},
		{PayloadType: 0, TimestampOffset: 160, Payload: []byte{0xbb}},
		{PayloadType: 111, IsPrimary: true, Payload: []byte{0xcc}},
	}
	payload := EncodeRED(blocks)

	packets, err := DepacketizeRED(98, 500, 48000, 0x1234, payload)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	wantSeqs := []uint16{498, 499, 500}
	wantTS := []uint32{47680, 47840, 48000}
	for i, pkt := range packets {
		assert.Equal(t, wantSeqs[i], pkt.SequenceNumber, "packet %d seq", i)
		assert.Equal(t, wantTS[i], pkt.Timestamp, "packet %d timestamp", i)
	}
	assert.Equal(t, uint8(111), packets[2].PayloadType)
}

func TestDecodeREDMalformed(t *testing.T) {
	_, err := DecodeRED([]byte{0x80, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRedundancyDeduper(t *testing.T) {
	var d RedundancyDeduper
	assert.False(t, d.Seen(100))
	assert.True(t, d.Seen(100))
	assert.False(t, d.Seen(101))
}
