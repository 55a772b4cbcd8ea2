package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// Endpoint is a net.Conn-shaped view onto one protocol's share of a
// multiplexed socket. The Mux delivers matching packets into a fixed-size
// circular queue of reused buffers; readers drain it with Read. When the
// queue is full, the oldest undelivered packet is dropped in favor of the
// newest (a stalled consumer must not block the shared read loop).
type Endpoint struct {
	mux *Mux

	bufs  [][]byte // circular queue of fixed-size packet buffers
	nbufs int
	nused int
	first int

	available chan struct{} // non-empty signal, single slot
	dead      chan struct{}

	sync.Mutex
}

func newEndpoint(mux *Mux, queueDepth, bufSize int) *Endpoint {
	pool := make([]byte, queueDepth*bufSize)
	bufs := make([][]byte, queueDepth)
	for i := range bufs {
		bufs[i] = pool[i*bufSize : (i+1)*bufSize]
	}
	return &Endpoint{
		mux:       mux,
		bufs:      bufs,
		nbufs:     queueDepth,
		available: make(chan struct{}, 1),
		dead:      make(chan struct{}),
	}
}

// Close unregisters the endpoint from its Mux. The underlying socket is
// not closed; use Mux.Close to tear down the whole multiplexed connection.
func (e *Endpoint) Close() error {
	e.closeLocal()
	e.mux.removeEndpoint(e)
	return nil
}

func (e *Endpoint) closeLocal() {
	e.Lock()
	select {
	case <-e.dead:
	default:
		close(e.dead)
	}
	e.Unlock()
}

// deliver swaps buf (the packet just read off the wire) into the circular
// queue and returns a free buffer of the same size for the Mux's read loop
// to reuse, avoiding a per-packet allocation on the hot path.
func (e *Endpoint) deliver(buf []byte) []byte {
	e.Lock()
	defer e.Unlock()

	select {
	case <-e.dead:
		return buf
	case e.available <- struct{}{}:
	default:
	}

	if e.nused == e.nbufs {
		dropped := e.bufs[e.first]
		e.bufs[e.first] = buf
		e.first = (e.first + 1) % e.nbufs
		return dropped
	}
	next := (e.first + e.nused) % e.nbufs
	free := e.bufs[next]
	e.bufs[next] = buf
	e.nused++
	return free
}

func (e *Endpoint) tryConsume(p []byte) (int, bool) {
	e.Lock()
	defer e.Unlock()

	if e.nused == 0 {
		return 0, false
	}
	n := copy(p, e.bufs[e.first])
	e.first = (e.first + 1) % e.nbufs
	e.nused--

	if e.nused > 0 {
		select {
		case e.available <- struct{}{}:
		default:
		}
	}
	return n, true
}

// Read blocks until a packet matching this endpoint's classification
// arrives, or the endpoint is closed.
func (e *Endpoint) Read(p []byte) (int, error) {
	if n, ok := e.tryConsume(p); ok {
		return n, nil
	}
	for {
		select {
		case <-e.dead:
			return 0, io.EOF
		case <-e.available:
			if n, ok := e.tryConsume(p); ok {
				return n, nil
			}
		}
	}
}

// Write sends p on the shared underlying connection.
func (e *Endpoint) Write(p []byte) (int, error) {
	return e.mux.conn.Write(p)
}

func (e *Endpoint) LocalAddr() net.Addr  { return e.mux.conn.LocalAddr() }
func (e *Endpoint) RemoteAddr() net.Addr { return e.mux.conn.RemoteAddr() }

// Deadlines are not supported; the Mux's read loop owns the underlying
// connection's deadline, if any.
func (e *Endpoint) SetDeadline(t time.Time) error      { return nil }
func (e *Endpoint) SetReadDeadline(t time.Time) error  { return nil }
func (e *Endpoint) SetWriteDeadline(t time.Time) error { return nil }
