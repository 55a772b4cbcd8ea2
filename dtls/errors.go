package dtls

import "golang.org/x/xerrors"

var (
	// ErrHandshakeFailed indicates the handshake gave up after exhausting
	// its retransmission budget without completing.
	ErrHandshakeFailed = xerrors.New("dtls: handshake failed")

	// ErrVerificationFailed indicates a Finished message's verify_data, or
	// a ServerKeyExchange signature, did not match.
	ErrVerificationFailed = xerrors.New("dtls: verification failed")

	// ErrPeerCertificateRejected indicates Config.VerifyPeerCertificate
	// rejected the certificate the remote end presented.
	ErrPeerCertificateRejected = xerrors.New("dtls: peer certificate rejected")

	// ErrNoCommonCipherSuite indicates the offered and supported cipher
	// suite lists shared no entry.
	ErrNoCommonCipherSuite = xerrors.New("dtls: no common cipher suite")

	// ErrNoCommonSRTPProfile indicates use_srtp negotiation found no
	// shared protection profile.
	ErrNoCommonSRTPProfile = xerrors.New("dtls: no common srtp protection profile")
)
