// Package transport multiplexes STUN, DTLS, and SRTP/SRTCP onto the single
// UDP flow ICE nominates for a candidate pair, per RFC 7983's first-byte
// demultiplexing rule. One Mux owns a net.Conn (a connected UDP socket, or
// any net.Conn a test substitutes); Endpoints registered against it each
// see only the packets their MatchFunc accepts.
package transport

import (
	"net"
	"sync"

	"github.com/lanikai/alohartc/internal/logging"
)

// defaultQueueDepth bounds how many undelivered packets an Endpoint holds
// before it starts dropping the oldest.
const defaultQueueDepth = 32

var log = logging.DefaultLogger.WithTag("transport")

// Mux reads datagrams from one underlying connection and routes each to a
// registered Endpoint whose MatchFunc accepts it; endpoints are tried in
// unspecified order.
type Mux struct {
	conn       net.Conn
	bufferSize int

	mu        sync.Mutex
	endpoints map[*Endpoint]MatchFunc
}

// NewMux takes ownership of conn and starts routing packets read from it.
// bufferSize should be at least the largest expected datagram (1500 is a
// safe default for non-jumbo Ethernet paths).
func NewMux(conn net.Conn, bufferSize int) *Mux {
	m := &Mux{
		conn:       conn,
		bufferSize: bufferSize,
		endpoints:  make(map[*Endpoint]MatchFunc),
	}
	go m.readLoop()
	return m
}

// NewEndpoint registers a new Endpoint that receives every packet accepted
// by match. Endpoints are tried in unspecified order; register
// non-overlapping MatchFuncs (see MatchClass, MatchRTPOrRTCP).
func (m *Mux) NewEndpoint(match MatchFunc) *Endpoint {
	e := newEndpoint(m, defaultQueueDepth, m.bufferSize)
	m.mu.Lock()
	m.endpoints[e] = match
	m.mu.Unlock()
	return e
}

// STUNEndpoint registers an Endpoint for inbound STUN binding
// requests/responses.
func (m *Mux) STUNEndpoint() *Endpoint { return m.NewEndpoint(MatchClass(ClassSTUN)) }

// DTLSEndpoint registers an Endpoint for the DTLS handshake and
// application-data records.
func (m *Mux) DTLSEndpoint() *Endpoint { return m.NewEndpoint(MatchClass(ClassDTLS)) }

// RTPEndpoint registers an Endpoint for SRTP packets (RTCP excluded; see
// RTCPEndpoint). Use RTPRTCPEndpoint instead when rtcp-mux is in effect and
// the RTP session demultiplexes the two itself.
func (m *Mux) RTPEndpoint() *Endpoint { return m.NewEndpoint(MatchClass(ClassRTP)) }

// RTCPEndpoint registers an Endpoint for SRTCP packets.
func (m *Mux) RTCPEndpoint() *Endpoint { return m.NewEndpoint(MatchClass(ClassRTCP)) }

// RTPRTCPEndpoint registers a single Endpoint for both SRTP and SRTCP
// packets, matching rtcp-mux (RFC 5761), the only mode this module offers.
func (m *Mux) RTPRTCPEndpoint() *Endpoint { return m.NewEndpoint(MatchRTPOrRTCP()) }

func (m *Mux) removeEndpoint(e *Endpoint) {
	m.mu.Lock()
	delete(m.endpoints, e)
	m.mu.Unlock()
}

// Close tears down every registered Endpoint and closes the underlying
// connection.
func (m *Mux) Close() error {
	m.mu.Lock()
	for e := range m.endpoints {
		e.closeLocal()
		delete(m.endpoints, e)
	}
	m.mu.Unlock()
	return m.conn.Close()
}

func (m *Mux) readLoop() {
	defer m.Close()

	buf := make([]byte, m.bufferSize)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		buf = m.dispatch(buf[:n])
		buf = buf[:cap(buf)]
	}
}

// dispatch hands buf to the first matching Endpoint, trading it for one of
// that endpoint's free buffers to avoid allocating on every packet. If no
// Endpoint matches, the packet is logged and dropped in place.
func (m *Mux) dispatch(buf []byte) []byte {
	var target *Endpoint

	m.mu.Lock()
	for e, match := range m.endpoints {
		if match(buf) {
			target = e
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		log.Trace(2, "no endpoint for packet classified as %s (%d bytes)", Classify(buf), len(buf))
		return buf
	}
	return target.deliver(buf)
}
