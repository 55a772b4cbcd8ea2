package track

import (
	"testing"

	"github.com/lanikai/alohartc/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackDefaults(t *testing.T) {
	tr := New(KindVideo, "t1", "camera")
	assert.Equal(t, KindVideo, tr.Kind())
	assert.True(t, tr.Enabled())
	assert.False(t, tr.Muted())
	assert.False(t, tr.Stopped())
}

func TestTrackRIDClone(t *testing.T) {
	tr := New(KindVideo, "t1", "camera")
	simulcast := tr.WithRID("hi")
	assert.Equal(t, "hi", simulcast.RID())
	assert.Equal(t, tr.ID(), simulcast.ID())
	assert.Empty(t, tr.RID())
}

func TestTrackDeliverToSubscribers(t *testing.T) {
	tr := New(KindAudio, "a1", "mic")
	ch := tr.RawRTP(4)

	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	tr.Deliver(pkt)

	got := <-ch
	assert.Equal(t, pkt, got)
}

func TestTrackDisabledDropsDelivery(t *testing.T) {
	tr := New(KindAudio, "a1", "mic")
	ch := tr.RawRTP(4)
	tr.SetEnabled(false)

	tr.Deliver(&rtp.Packet{})

	select {
	case <-ch:
		t.Fatal("disabled track should not deliver")
	default:
	}
}

func TestTrackStopClosesSubscribers(t *testing.T) {
	tr := New(KindAudio, "a1", "mic")
	ch := tr.RawRTP(1)
	tr.Stop()

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, tr.Stopped())

	// Subscribing after stop yields an already-closed channel.
	ch2 := tr.RawRTP(1)
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestTrackApplyConstraints(t *testing.T) {
	tr := New(KindVideo, "v1", "camera")
	tr.ApplyConstraints(Constraints{ScalabilityMode: "L2T2"})
	require.Equal(t, "L2T2", tr.Constraints().ScalabilityMode)
}
