package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySTUN(t *testing.T) {
	for _, b := range []byte{0x00, 0x01, 0x02, 0x03} {
		assert.Equal(t, ClassSTUN, Classify([]byte{b, 0x01, 0x00, 0x00}), "byte %#x", b)
	}
}

func TestClassifyDTLS(t *testing.T) {
	for _, b := range []byte{20, 22, 63} {
		assert.Equal(t, ClassDTLS, Classify([]byte{b, 0xfe, 0xfd}), "byte %#x", b)
	}
}

func TestClassifyRTPVsRTCP(t *testing.T) {
	// 128 = 0x80: version 2 RTP/RTCP marker bits in byte 0.
	assert.Equal(t, ClassRTCP, Classify([]byte{0x80, 200, 0, 0})) // PT 200 (SR) -> RTCP range
	assert.Equal(t, ClassRTCP, Classify([]byte{0x80, 64, 0, 0}))  // lower bound
	assert.Equal(t, ClassRTCP, Classify([]byte{0x80, 95, 0, 0}))  // upper bound
	assert.Equal(t, ClassRTP, Classify([]byte{0x80, 111, 0, 0}))  // Opus PT, outside RTCP range
	assert.Equal(t, ClassRTP, Classify([]byte{0x80, 63, 0, 0}))   // just below RTCP range
	assert.Equal(t, ClassRTP, Classify([]byte{0x80, 96, 0, 0}))   // just above RTCP range
}

func TestClassifyMarkerBitIgnoredForPT(t *testing.T) {
	// Marker bit (high bit of byte 1) set on an RTP packet must not change
	// classification; only the low 7 bits carry the payload type.
	assert.Equal(t, ClassRTP, Classify([]byte{0x80, 0x80 | 111, 0, 0}))
}

func TestClassifyUnknown(t *testing.T) {
	assert.Equal(t, ClassUnknown, Classify(nil))
	assert.Equal(t, ClassUnknown, Classify([]byte{192, 0}))
	assert.Equal(t, ClassUnknown, Classify([]byte{19}))
	assert.Equal(t, ClassUnknown, Classify([]byte{128})) // too short to read PT
}

func TestMatchRTPOrRTCP(t *testing.T) {
	match := MatchRTPOrRTCP()
	assert.True(t, match([]byte{0x80, 111, 0, 0}))
	assert.True(t, match([]byte{0x80, 200, 0, 0}))
	assert.False(t, match([]byte{20, 0, 0}))
}
