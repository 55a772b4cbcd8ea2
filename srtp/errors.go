// Package srtp implements Secure RTP and Secure RTCP (RFC 3711): key
// derivation, AES-CM and AES-GCM encryption, HMAC-SHA1 and AEAD
// authentication, and anti-replay protection. It has no notion of ICE,
// DTLS, or transport; callers hand it master key/salt material (typically
// exported from a completed DTLS handshake) and raw RTP/RTCP packet bytes.
// Organized around a per-direction Session with an explicit replay window
// and an AES-128-GCM cipher profile.
package srtp

import "errors"

var (
	// ErrReplay indicates a packet index already seen, or older than the
	// trailing edge of the anti-replay window. Always silent-drop at the
	// caller; surfacing it would enable a log-amplification attack.
	ErrReplay = errors.New("srtp: replayed packet")

	// ErrAuthFailed indicates the authentication tag did not verify.
	ErrAuthFailed = errors.New("srtp: authentication failed")

	// ErrMalformed indicates a buffer too short to contain a valid
	// SRTP/SRTCP packet for the configured protection profile.
	ErrMalformed = errors.New("srtp: malformed packet")
)
