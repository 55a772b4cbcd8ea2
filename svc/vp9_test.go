package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptorMinimal(t *testing.T) {
	// I=0 L=0 F=0 B=1 E=1: just flags, no picture ID or layer indices.
	payload := []byte{0b00001100, 0xAA, 0xBB}
	d, n, err := ParseDescriptor(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, d.Beginning)
	assert.True(t, d.End)
	assert.False(t, d.HasPictureID)
}

func TestParseDescriptorWithShortPictureID(t *testing.T) {
	// I=1, M=0 (7-bit picture ID = 42), B=1.
	payload := []byte{0b10001000, 42, 0xFF}
	d, n, err := ParseDescriptor(payload)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, d.HasPictureID)
	assert.Equal(t, uint16(42), d.PictureID)
}

func TestParseDescriptorWithLongPictureIDAndLayers(t *testing.T) {
	// I=1, L=1, F=1 (flexible, no TL0PICIDX byte).
	payload := []byte{
		0b10110000,
		0b10000001, 0x23, // M=1, 15-bit picture ID = 0x0123
		(2 << 5) | (1 << 1) | 1, // spatial=2, temporal=1, switching point
		0xFF,
	}
	d, n, err := ParseDescriptor(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint16(0x0123), d.PictureID)
	assert.Equal(t, uint8(2), d.SpatialID)
	assert.Equal(t, uint8(1), d.TemporalID)
	assert.True(t, d.SwitchingPoint)
}

func TestParseDescriptorTooShort(t *testing.T) {
	_, _, err := ParseDescriptor(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = ParseDescriptor([]byte{0b10000000}) // I=1 but no picture-ID byte follows
	assert.ErrorIs(t, err, ErrMalformed)
}
