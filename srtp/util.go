package srtp

import (
	"crypto/aes"
	"crypto/cipher"
)

// trunc truncates a 64-bit value to its lowest n bits.
func trunc(v uint64, n uint8) uint64 {
	return v & (1<<n - 1)
}

func xor32(buf []byte, v uint32) {
	buf[0] ^= byte(v >> 24)
	buf[1] ^= byte(v >> 16)
	buf[2] ^= byte(v >> 8)
	buf[3] ^= byte(v)
}

func xor64(buf []byte, v uint64) {
	xor32(buf[0:4], uint32(v>>32))
	xor32(buf[4:8], uint32(v))
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func padRight(b []byte, size int) []byte {
	if len(b) < size {
		b = append(b, make([]byte, size-len(b))...)
	}
	return b
}

// deriveKey implements the SRTP key-derivation PRF (RFC 3711 §4.3), with the
// key-derivation rate fixed at zero, as is universal in WebRTC's DTLS-SRTP
// usage.
func deriveKey(masterKey, masterSalt []byte, label byte, n int) []byte {
	x := append([]byte(nil), masterSalt...)
	x[len(x)-7] ^= label

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		panic(err)
	}
	iv := padRight(x, aes.BlockSize)
	stream := cipher.NewCTR(block, iv)

	key := make([]byte, n)
	stream.XORKeyStream(key, key)
	return key
}
