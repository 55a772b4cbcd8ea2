package dtls

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/lanikai/alohartc/internal/logging"
)

// State is the externally observable phase of a DTLS connection: a Conn
// starts in connecting (there is no separate new state) and ends
// connected, failed or closed.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the material needed to run either side of a handshake.
// WebRTC authenticates peers by certificate fingerprint negotiated over
// SDP rather than by CA trust, so VerifyPeerCertificate is how the caller
// plugs that check in; a nil VerifyPeerCertificate accepts any
// certificate the peer presents.
type Config struct {
	Certificate            tls.Certificate
	VerifyPeerCertificate  func(*x509.Certificate) error
	InitialRetransmitDelay time.Duration // defaults to 1s
	MaxRetransmits         int           // defaults to 6 (RFC 4347 Appendix A timeline)
}

var log = logging.DefaultLogger.WithTag("dtls")

func (c *Config) retransmitDelay() time.Duration {
	if c.InitialRetransmitDelay > 0 {
		return c.InitialRetransmitDelay
	}
	return time.Second
}

func (c *Config) maxRetransmits() int {
	if c.MaxRetransmits > 0 {
		return c.MaxRetransmits
	}
	return 6
}

// Conn is one end of a DTLS 1.2 association. It is not safe for
// concurrent use by multiple goroutines.
type Conn struct {
	conn   net.Conn
	config Config

	state State

	clientRandom, serverRandom helloRandom
	cipherSuite                CipherSuite
	curve                      NamedCurve
	extendedMasterSecret       bool
	srtpProfile                SRTPProtectionProfile

	masterSecret []byte
	keys         keyBlock

	readCipher, writeCipher *recordCipher
	readEpoch, writeEpoch   uint16
	readSeq, writeSeq       uint64

	transcript []byte

	peerCert        *x509.Certificate
	localMessageSeq uint16

	lastFlight [][]byte // raw records of the most recently sent flight, for retransmission
}

// Client runs the DTLS client handshake over conn (typically a
// transport.Endpoint classifying DTLS datagrams out of a muxed UDP
// socket) and returns once the handshake completes or fails.
func Client(conn net.Conn, config Config) (*Conn, error) {
	c := newConn(conn, config)
	if err := c.handshakeClient(); err != nil {
		c.state = StateFailed
		log.Debug("client handshake failed: %v", err)
		return nil, err
	}
	c.state = StateConnected
	log.Debug("client handshake complete, cipher suite 0x%04x", uint16(c.cipherSuite))
	return c, nil
}

// Server runs the DTLS server handshake over conn and returns once the
// handshake completes or fails.
func Server(conn net.Conn, config Config) (*Conn, error) {
	c := newConn(conn, config)
	if err := c.handshakeServer(); err != nil {
		c.state = StateFailed
		log.Debug("server handshake failed: %v", err)
		return nil, err
	}
	c.state = StateConnected
	log.Debug("server handshake complete, cipher suite 0x%04x", uint16(c.cipherSuite))
	return c, nil
}

func newConn(conn net.Conn, config Config) *Conn {
	return &Conn{
		conn:   conn,
		config: config,
		state:  StateConnecting,
	}
}

func (c *Conn) State() State { return c.state }

// PeerCertificate returns the certificate the remote end presented during
// the handshake.
func (c *Conn) PeerCertificate() *x509.Certificate { return c.peerCert }

// SelectedSRTPProtectionProfile returns the use_srtp profile both sides
// agreed on (RFC 5764 §4.1.2).
func (c *Conn) SelectedSRTPProtectionProfile() SRTPProtectionProfile { return c.srtpProfile }

// ExportKeyingMaterial implements RFC 5705 keying export, used by the
// peer connection to derive SRTP master keys/salts under the
// "EXTRACTOR-dtls_srtp" label (RFC 5764 §4.2) once the handshake
// finishes.
func (c *Conn) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	if c.state != StateConnected {
		return nil, fmt.Errorf("dtls: cannot export keying material before handshake completes")
	}
	return exportKeyingMaterial(c.masterSecret, label, c.clientRandom, c.serverRandom, context, length), nil
}

// Close closes the underlying connection. It does not send a DTLS
// close_notify alert; the peer connection tears down SRTP and the
// transport together, and a best-effort RTCP BYE already signals session
// end at the RTP layer.
func (c *Conn) Close() error {
	c.state = StateClosed
	return c.conn.Close()
}

func (c *Conn) signer() (crypto.Signer, error) {
	signer, ok := c.config.Certificate.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("dtls: configured private key does not implement crypto.Signer")
	}
	return signer, nil
}

// appendTranscript records raw handshake-message bytes (header + body,
// no record framing) for the Finished/session-hash computation. Per RFC
// 6347 §4.2.1 the first (cookie-less) ClientHello and the
// HelloVerifyRequest are excluded; callers start accumulating from the
// second ClientHello onward.
func (c *Conn) appendTranscript(raw []byte) {
	c.transcript = append(c.transcript, raw...)
}

func (c *Conn) nextMessageSeq() uint16 {
	seq := c.localMessageSeq
	c.localMessageSeq++
	return seq
}

// encodeHandshakeRecord wraps a handshake message in a record at the
// current write epoch and sequence number, adds the message to the
// transcript, seals the fragment once a write cipher is installed, and
// returns the record bytes without writing them; writeFlight later sends a
// flight's records in one datagram.
func (c *Conn) encodeHandshakeRecord(typ HandshakeType, body []byte) []byte {
	msg := newHandshakeMessage(typ, c.nextMessageSeq(), body)
	raw := msg.marshal()
	c.appendTranscript(raw)

	r := record{
		contentType:    ContentTypeHandshake,
		version:        protocolVersionDTLS12,
		epoch:          c.writeEpoch,
		sequenceNumber: c.writeSeq,
		fragment:       raw,
	}
	if c.writeCipher != nil {
		r.fragment = c.writeCipher.seal(c.writeEpoch, c.writeSeq, ContentTypeHandshake, protocolVersionDTLS12, raw)
	}
	c.writeSeq++
	return r.marshal()
}

// encodeChangeCipherSpec returns a ChangeCipherSpec record (always a
// single 0x01 byte, RFC 5246 §7.1), bumps the write epoch and resets the
// write sequence number.
func (c *Conn) encodeChangeCipherSpec() []byte {
	r := record{
		contentType:    ContentTypeChangeCipherSpec,
		version:        protocolVersionDTLS12,
		epoch:          c.writeEpoch,
		sequenceNumber: c.writeSeq,
		fragment:       []byte{1},
	}
	raw := r.marshal()
	c.writeEpoch++
	c.writeSeq = 0
	return raw
}

// writeFlight sends every record in the flight as a single datagram (they
// are small enough in this engine's handshake to fit comfortably under a
// typical path MTU) and remembers it for retransmission.
func (c *Conn) writeFlight(records [][]byte) error {
	var datagram []byte
	for _, r := range records {
		datagram = append(datagram, r...)
	}
	c.lastFlight = records
	_, err := c.conn.Write(datagram)
	return err
}

func (c *Conn) resendLastFlight() error {
	var datagram []byte
	for _, r := range c.lastFlight {
		datagram = append(datagram, r...)
	}
	_, err := c.conn.Write(datagram)
	return err
}

// readFlight blocks for the next datagram and splits it into records,
// retransmitting the last sent flight and retrying on timeout. It gives
// up after config.maxRetransmits attempts, surfacing HandshakeFailed.
//
// The timeout is enforced with its own timer rather than conn.SetReadDeadline
// alone: conn is typically a transport.Endpoint, whose deadline setters are
// no-ops (the Mux's read loop owns the socket deadline, not individual
// endpoints), so SetReadDeadline is set on a best-effort basis for net.Conn
// implementations that do honor it, but a stalled Read is otherwise
// abandoned rather than awaited.
func (c *Conn) readFlight() ([]record, error) {
	delay := c.config.retransmitDelay()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > c.config.maxRetransmits() {
				return nil, ErrHandshakeFailed
			}
			if err := c.resendLastFlight(); err != nil {
				return nil, err
			}
			delay *= 2
		}

		records, timedOut, err := c.readOneDatagram(delay)
		if err != nil {
			return nil, err
		}
		if timedOut || records == nil {
			// Either the read timed out, or the datagram was unparseable and
			// silently dropped per the engine-wide policy of ignoring
			// malformed wire data rather than failing the connection on it.
			// Either way, go round again: the next iteration resends the
			// last flight, doubles the delay and counts toward
			// maxRetransmits.
			continue
		}
		return records, nil
	}
}

// readOneDatagram reads a single datagram with a timeout of delay,
// returning (nil, true, nil) if no datagram arrived or it failed to parse.
func (c *Conn) readOneDatagram(delay time.Duration) ([]record, bool, error) {
	c.conn.SetReadDeadline(time.Now().Add(delay))

	type readResult struct {
		n   int
		buf []byte
		err error
	}
	ch := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 2048)
		n, err := c.conn.Read(buf)
		ch <- readResult{n, buf, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if ne, ok := res.err.(net.Error); ok && ne.Timeout() {
				return nil, true, nil
			}
			return nil, false, res.err
		}
		records, err := splitRecords(res.buf[:res.n])
		if err != nil {
			return nil, true, nil
		}
		return records, false, nil
	case <-time.After(delay):
		return nil, true, nil
	}
}
