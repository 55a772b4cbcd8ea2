package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testPacket struct {
	seq uint16
	ts  uint32
}

func (p testPacket) Seq() uint16       { return p.seq }
func (p testPacket) Timestamp() uint32 { return p.ts }

func seqs(pkts []Packet) []uint16 {
	out := make([]uint16, len(pkts))
	for i, p := range pkts {
		out[i] = p.Seq()
	}
	return out
}

func TestBufferEmitsInOrderImmediately(t *testing.T) {
	b := New(90000, 200, 16)

	emit, losses := b.Push(testPacket{100, 0}, 0)
	assert.Equal(t, []uint16{100}, seqs(emit))
	assert.Empty(t, losses)

	emit, losses = b.Push(testPacket{101, 3000}, 3000)
	assert.Equal(t, []uint16{101}, seqs(emit))
	assert.Empty(t, losses)
}

func TestBufferReordersAndAgesOutGap(t *testing.T) {
	const clockRate = 90000
	const latencyMs = 200
	b := New(clockRate, latencyMs, 16)

	base := uint32(1_000_000)
	emit, _ := b.Push(testPacket{100, base}, base)
	assert.Equal(t, []uint16{100}, seqs(emit))

	emit, _ = b.Push(testPacket{101, base + 3000}, base+3000)
	assert.Equal(t, []uint16{101}, seqs(emit))

	// 103 and 104 arrive; 102 never does.
	emit, losses := b.Push(testPacket{103, base + 9000}, base+9000)
	assert.Empty(t, emit)
	assert.Empty(t, losses)

	emit, losses = b.Push(testPacket{104, base + 12000}, base+12000)
	assert.Empty(t, emit)
	assert.Empty(t, losses)

	// Advance the clock past the 200ms deadline for seq 103's timestamp.
	laterTs := base + 9000 + uint32(float64(latencyMs+10)/1000*clockRate)
	emit, losses = b.Push(testPacket{105, base + 15000}, laterTs)

	require := assert.New(t)
	require.Len(losses, 1)
	require.Equal(uint16(102), losses[0].From)
	require.Equal(uint16(103), losses[0].To)
	require.Equal([]uint16{103, 104, 105}, seqs(emit))
}

func TestBufferDropsNewestOnOverflow(t *testing.T) {
	b := New(90000, 200, 2)

	b.Push(testPacket{100, 0}, 0) // present, not buffered
	b.Push(testPacket{102, 0}, 0)
	b.Push(testPacket{103, 0}, 0)
	b.Push(testPacket{104, 0}, 0) // capacity 2: evicts the newest (104)

	assert.Len(t, b.pending, 2)
	_, has104 := b.pending[104]
	assert.False(t, has104)
}

func TestBufferFlushEmitsRemainderInOrder(t *testing.T) {
	b := New(90000, 200, 16)
	b.Push(testPacket{100, 0}, 0)
	b.Push(testPacket{103, 0}, 0)
	b.Push(testPacket{102, 0}, 0)

	out := b.Flush()
	assert.Equal(t, []uint16{102, 103}, seqs(out))
}
