package transport

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeMux(t *testing.T, bufferSize int) (*Mux, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	m := NewMux(server, bufferSize)
	t.Cleanup(func() { client.Close() })
	return m, client
}

func TestMuxRoutesByClassification(t *testing.T) {
	m, client := newPipeMux(t, 1500)
	stun := m.STUNEndpoint()
	dtls := m.DTLSEndpoint()
	rtp := m.RTPRTCPEndpoint()

	go client.Write([]byte{0x01, 0xaa})
	buf := make([]byte, 16)
	n, err := stun.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xaa}, buf[:n])

	go client.Write([]byte{22, 0xfe, 0xfd})
	n, err = dtls.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{22, 0xfe, 0xfd}, buf[:n])

	go client.Write([]byte{0x80, 111, 0, 0})
	n, err = rtp.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ClassRTP, Classify(buf[:n]))
}

func TestMuxDropsUnmatchedPacketWithoutBlocking(t *testing.T) {
	m, client := newPipeMux(t, 1500)
	_ = m.STUNEndpoint()

	done := make(chan struct{})
	go func() {
		client.Write([]byte{22, 0xfe}) // DTLS: no endpoint registered for it
		close(done)
	}()
	<-done // Write returning proves the read loop didn't stall on the drop
}

func TestEndpointWriteGoesToUnderlyingConn(t *testing.T) {
	m, client := newPipeMux(t, 1500)
	ep := m.STUNEndpoint()

	go ep.Write([]byte{0x01, 0x02, 0x03})
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])
}

func TestMuxCloseUnblocksEndpointReaders(t *testing.T) {
	m, _ := newPipeMux(t, 1500)
	ep := m.STUNEndpoint()

	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Read(make([]byte, 16))
		errCh <- err
	}()

	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-errCh, io.EOF)
}

func TestEndpointQueueDropsOldestOnOverflow(t *testing.T) {
	m, client := newPipeMux(t, 4)
	ep := m.DTLSEndpoint()

	total := defaultQueueDepth + 8
	for i := 0; i < total; i++ {
		client.Write([]byte{22, byte(i)})
	}

	buf := make([]byte, 4)
	for want := total - defaultQueueDepth; want < total; want++ {
		n, err := ep.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		assert.Equal(t, byte(want), buf[1], "expected packet %d to have survived eviction", want)
	}
}
