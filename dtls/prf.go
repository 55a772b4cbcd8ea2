package dtls

import (
	"crypto/hmac"
	"crypto/sha256"
)

// pHash implements P_hash from RFC 5246 §5, the HMAC-based expansion
// function underlying the TLS 1.2 PRF. All cipher suites this engine
// supports use SHA-256, so the hash is fixed rather than parameterized.
func pHash(secret, seed []byte, length int) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(seed)
	a := h.Sum(nil)

	out := make([]byte, 0, length)
	for len(out) < length {
		h := hmac.New(sha256.New, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(sha256.New, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:length]
}

// prf12 is the TLS 1.2 PRF (RFC 5246 §5): PRF(secret, label, seed) = P_SHA256(secret, label + seed).
func prf12(secret []byte, label string, seed []byte, length int) []byte {
	full := append([]byte(label), seed...)
	return pHash(secret, full, length)
}

// masterSecretLen is fixed by TLS 1.2 (RFC 5246 §6.3).
const masterSecretLen = 48

// computeMasterSecret derives the 48-byte master secret from the ECDHE
// shared secret and the two hello randoms (RFC 5246 §8.1), or, when both
// peers advertised extended_master_secret, from the session hash instead
// of the randoms (RFC 7627 §4) — binding the secret to the full handshake
// transcript rather than just the easily-replayed random nonces.
func computeMasterSecret(sharedSecret []byte, clientRandom, serverRandom helloRandom, extended bool, sessionHash []byte) []byte {
	if extended {
		return prf12(sharedSecret, "extended master secret", sessionHash, masterSecretLen)
	}
	seed := append(append([]byte{}, clientRandom[:]...), serverRandom[:]...)
	return prf12(sharedSecret, "master secret", seed, masterSecretLen)
}

// keyBlock is the expansion of the master secret into per-direction
// symmetric keys and IVs (RFC 5246 §6.3). For an AEAD cipher like
// AES-128-GCM there is no separate MAC key; client_write_IV/server_write_IV
// hold the 4-byte fixed portion of the GCM nonce (RFC 5288 §3).
type keyBlock struct {
	clientWriteKey []byte
	serverWriteKey []byte
	clientWriteIV  []byte
	serverWriteIV  []byte
}

const (
	gcmKeyLen       = 16 // AES-128
	gcmFixedIVLen   = 4  // RFC 5288 §3 salt
)

func computeKeyBlock(masterSecret []byte, clientRandom, serverRandom helloRandom) keyBlock {
	seed := append(append([]byte{}, serverRandom[:]...), clientRandom[:]...)
	need := 2*gcmKeyLen + 2*gcmFixedIVLen
	block := prf12(masterSecret, "key expansion", seed, need)

	var kb keyBlock
	pos := 0
	kb.clientWriteKey = block[pos : pos+gcmKeyLen]
	pos += gcmKeyLen
	kb.serverWriteKey = block[pos : pos+gcmKeyLen]
	pos += gcmKeyLen
	kb.clientWriteIV = block[pos : pos+gcmFixedIVLen]
	pos += gcmFixedIVLen
	kb.serverWriteIV = block[pos : pos+gcmFixedIVLen]
	return kb
}

// verifyData computes Finished.verify_data = PRF(master_secret, label,
// Hash(handshake_messages))[0:12] (RFC 5246 §7.4.9).
func verifyData(masterSecret []byte, label string, transcriptHash []byte) []byte {
	return prf12(masterSecret, label, transcriptHash, 12)
}

const (
	clientFinishedLabel = "client finished"
	serverFinishedLabel = "server finished"
)

// exportKeyingMaterial implements RFC 5705 keying material export on top
// of the already-negotiated master secret, as used by RFC 5764 §4.2 to
// derive SRTP master keys/salts under the "EXTRACTOR-dtls_srtp" label.
func exportKeyingMaterial(masterSecret []byte, label string, clientRandom, serverRandom helloRandom, context []byte, length int) []byte {
	seed := append(append([]byte{}, clientRandom[:]...), serverRandom[:]...)
	seed = append(seed, context...)
	return prf12(masterSecret, label, seed, length)
}
