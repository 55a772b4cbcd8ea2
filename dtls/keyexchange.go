package dtls

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ecdhKeyPair is one side's ephemeral ECDHE keypair for a single
// handshake, over whichever curve was negotiated (RFC 4492 §5.4/5.7).
// X25519 uses golang.org/x/crypto/curve25519 directly, since RFC 7748
// scalar multiplication predates and is simpler than wrapping it in the
// generic crypto/ecdh interface; P-256 uses crypto/ecdh, which validates
// the peer's point is on the curve (a check curve25519 doesn't need).
type ecdhKeyPair struct {
	curve NamedCurve

	x25519Priv [32]byte
	x25519Pub  [32]byte

	p256Priv *ecdh.PrivateKey
}

func generateECDHKeyPair(nc NamedCurve) (*ecdhKeyPair, error) {
	kp := &ecdhKeyPair{curve: nc}
	switch nc {
	case NamedCurveX25519:
		if _, err := rand.Read(kp.x25519Priv[:]); err != nil {
			return nil, fmt.Errorf("dtls: generate X25519 key: %w", err)
		}
		pub, err := curve25519.X25519(kp.x25519Priv[:], curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("dtls: derive X25519 public key: %w", err)
		}
		copy(kp.x25519Pub[:], pub)
	case NamedCurveSECP256R1:
		priv, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("dtls: generate P-256 key: %w", err)
		}
		kp.p256Priv = priv
	default:
		return nil, fmt.Errorf("dtls: unsupported named curve %d", nc)
	}
	return kp, nil
}

// publicKeyBytes is the raw X25519 key or uncompressed P-256 point sent
// on the wire in ServerKeyExchange/ClientKeyExchange.
func (kp *ecdhKeyPair) publicKeyBytes() []byte {
	switch kp.curve {
	case NamedCurveX25519:
		return append([]byte(nil), kp.x25519Pub[:]...)
	case NamedCurveSECP256R1:
		return kp.p256Priv.PublicKey().Bytes()
	default:
		return nil
	}
}

// sharedSecret computes ECDH(kp.priv, peerPublicKeyBytes), the
// pre_master_secret for ECDHE suites (RFC 4492 §5.10).
func (kp *ecdhKeyPair) sharedSecret(peerPublicKeyBytes []byte) ([]byte, error) {
	switch kp.curve {
	case NamedCurveX25519:
		secret, err := curve25519.X25519(kp.x25519Priv[:], peerPublicKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("dtls: X25519 ECDH: %w", err)
		}
		return secret, nil
	case NamedCurveSECP256R1:
		peer, err := ecdh.P256().NewPublicKey(peerPublicKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("dtls: invalid peer P-256 public key: %w", err)
		}
		secret, err := kp.p256Priv.ECDH(peer)
		if err != nil {
			return nil, fmt.Errorf("dtls: P-256 ECDH: %w", err)
		}
		return secret, nil
	default:
		return nil, fmt.Errorf("dtls: unsupported named curve %d", kp.curve)
	}
}

// selectCurve picks the first curve, in this engine's fixed preference
// order (X25519 then P-256), that the peer also offered.
func selectCurve(offered []NamedCurve) (NamedCurve, error) {
	for _, c := range offeredCurves {
		for _, o := range offered {
			if o == c {
				return c, nil
			}
		}
	}
	return 0, fmt.Errorf("dtls: no common named curve")
}

func parseSupportedGroups(b []byte) ([]NamedCurve, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("dtls: supported_groups extension too short")
	}
	n := int(b[0])
	if 1+n > len(b) {
		return nil, fmt.Errorf("dtls: supported_groups length mismatch")
	}
	var groups []NamedCurve
	for i := 0; i < n; i += 2 {
		groups = append(groups, NamedCurve(uint16(b[1+i])<<8|uint16(b[2+i])))
	}
	return groups, nil
}
