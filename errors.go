package alohartc

import "errors"

// Error taxonomy for the engine's API boundary. Internal decode failures on
// the receive path are logged and swallowed; these sentinels are for
// caller-triggered or connection-state-changing failures. Compare with
// errors.Is; callers in this package wrap them with context via
// fmt.Errorf's %w.

var (
	// ErrMalformed indicates a wire-format parse failure (RTP, RTCP, SDP,
	// DTLS record, STUN) surfaced for application-submitted SDP/candidates.
	ErrMalformed = errors.New("webrtc: malformed input")

	// ErrInvalidState indicates an API call not permitted for the current
	// state-machine position.
	ErrInvalidState = errors.New("webrtc: invalid state for operation")

	// ErrClosed indicates an operation on a torn-down resource.
	ErrClosed = errors.New("webrtc: operation on closed peer connection")

	// ErrHandshakeFailed indicates the DTLS handshake gave up after
	// retransmission exhaustion.
	ErrHandshakeFailed = errors.New("webrtc: dtls handshake failed")

	// ErrIceFailed indicates no candidate pair was nominated before timeout.
	ErrIceFailed = errors.New("webrtc: ice connection failed")

	errNotFound       = errors.New("webrtc: not found")
	errNotImplemented = errors.New("webrtc: not implemented")
	errNotSupported   = errors.New("webrtc: not supported")
)
