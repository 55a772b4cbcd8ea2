package alohartc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToEverySubscriber(t *testing.T) {
	b := NewBroadcaster()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ch := b.Subscribe(1)
			pkt := <-ch
			assert.Equal(t, []byte{0xc0, 0xff, 0xee}, pkt)
		}()
	}

	// Keep writing until every subscriber has received a slice; one that
	// registers after a write catches a later one.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		default:
			b.Write([]byte{0xc0, 0xff, 0xee})
		}
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(10)
	require.NoError(t, b.Unsubscribe(ch))
	assert.ErrorIs(t, b.Unsubscribe(ch), errNotFound)
}

func TestBroadcasterCloseClosesEverySubscriberChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel closed after Broadcaster.Close")
}
