package nack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverOpensGapOnSkippedSequence(t *testing.T) {
	r := NewReceiver(0xaaaa, 0xbbbb)
	r.Received(10)
	r.Received(13) // 11, 12 missing

	assert.Equal(t, 2, r.Pending())

	now := time.Unix(0, 0)
	n, permanent := r.Due(now)
	require.NotNil(t, n)
	assert.Empty(t, permanent)
	assert.ElementsMatch(t, []uint16{11, 12}, n.LostSequenceNumbers())
}

func TestReceiverFillsGapOnLateArrival(t *testing.T) {
	r := NewReceiver(1, 2)
	r.Received(10)
	r.Received(12)
	assert.Equal(t, 1, r.Pending())

	r.Received(11)
	assert.Equal(t, 0, r.Pending())

	now := time.Unix(0, 0)
	n, permanent := r.Due(now)
	assert.Nil(t, n)
	assert.Empty(t, permanent)
}

func TestReceiverRetriesThenReportsPermanentLoss(t *testing.T) {
	r := NewReceiver(1, 2)
	r.Received(0)
	r.Received(2) // seq 1 missing

	now := time.Unix(0, 0)
	for i := 0; i < MaxRetries; i++ {
		n, permanent := r.Due(now)
		require.NotNil(t, n, "retry %d should still request seq 1", i)
		assert.Empty(t, permanent)
		now = now.Add(RetryInterval)
	}

	n, permanent := r.Due(now)
	assert.Nil(t, n)
	assert.Equal(t, []uint16{1}, permanent)
	assert.Equal(t, 0, r.Pending())
}

func TestReceiverDoesNotReRequestBeforeInterval(t *testing.T) {
	r := NewReceiver(1, 2)
	r.Received(0)
	r.Received(2)

	now := time.Unix(0, 0)
	n, _ := r.Due(now)
	require.NotNil(t, n)

	n, _ = r.Due(now.Add(RetryInterval / 2))
	assert.Nil(t, n)

	n, _ = r.Due(now.Add(RetryInterval))
	assert.NotNil(t, n)
}
