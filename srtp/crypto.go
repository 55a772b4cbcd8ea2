package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"hash"
	"sync"
)

// Protection selects the SRTP protection profile (RFC 3711 §4, RFC 7714 for
// the AEAD variant).
type Protection uint8

const (
	ProtectionAES128CMHMACSHA1_80 Protection = iota
	ProtectionAES128CMHMACSHA1_32
	ProtectionAEADAES128GCM
)

const (
	aesKeyLength  = 16 // n_e, 128 bits
	authKeyLength = 20 // n_a, 160 bits (HMAC-SHA1 key)
	cmSaltLength  = 14 // n_s, 112 bits (RFC 3711)
	gcmSaltLength = 12 // RFC 7714 §8.1
)

func (p Protection) authTagLength() int {
	switch p {
	case ProtectionAES128CMHMACSHA1_80:
		return 10
	case ProtectionAES128CMHMACSHA1_32:
		return 4
	case ProtectionAEADAES128GCM:
		return 16
	}
	return 0
}

func (p Protection) isAEAD() bool {
	return p == ProtectionAEADAES128GCM
}

// Key-derivation labels, RFC 3711 §4.3.
const (
	labelSRTPEncrypt = 0x00
	labelSRTPAuth    = 0x01
	labelSRTPSalt    = 0x02
	labelSRTCPEncrypt = 0x03
	labelSRTCPAuth    = 0x04
	labelSRTCPSalt    = 0x05
)

// Context holds the derived keys for one keying direction (one side of one
// DTLS-SRTP export produces two Contexts: local and remote).
type Context struct {
	protection Protection

	srtpBlock  cipher.Block
	srtpSalt   []byte
	srtpAuth   func([]byte) []byte
	srtpAEAD   cipher.AEAD

	srtcpBlock cipher.Block
	srtcpSalt  []byte
	srtcpAuth  func([]byte) []byte
	srtcpAEAD  cipher.AEAD
}

// NewContext derives session keys from master key/salt material (as
// produced by a DTLS "EXTRACTOR-dtls_srtp" export) for the given profile.
func NewContext(protection Protection, masterKey, masterSalt []byte) (*Context, error) {
	c := &Context{protection: protection}

	if protection.isAEAD() {
		srtpKey := deriveKey(masterKey, masterSalt, labelSRTPEncrypt, aesKeyLength)
		srtpSalt := deriveKey(masterKey, masterSalt, labelSRTPSalt, gcmSaltLength)
		srtcpKey := deriveKey(masterKey, masterSalt, labelSRTCPEncrypt, aesKeyLength)
		srtcpSalt := deriveKey(masterKey, masterSalt, labelSRTCPSalt, gcmSaltLength)

		block, err := aes.NewCipher(srtpKey)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		c.srtpAEAD = aead
		c.srtpSalt = srtpSalt

		block2, err := aes.NewCipher(srtcpKey)
		if err != nil {
			return nil, err
		}
		aead2, err := cipher.NewGCM(block2)
		if err != nil {
			return nil, err
		}
		c.srtcpAEAD = aead2
		c.srtcpSalt = srtcpSalt
		return c, nil
	}

	srtpKey := deriveKey(masterKey, masterSalt, labelSRTPEncrypt, aesKeyLength)
	srtpAuthKey := deriveKey(masterKey, masterSalt, labelSRTPAuth, authKeyLength)
	srtpSalt := deriveKey(masterKey, masterSalt, labelSRTPSalt, cmSaltLength)
	srtcpKey := deriveKey(masterKey, masterSalt, labelSRTCPEncrypt, aesKeyLength)
	srtcpAuthKey := deriveKey(masterKey, masterSalt, labelSRTCPAuth, authKeyLength)
	srtcpSalt := deriveKey(masterKey, masterSalt, labelSRTCPSalt, cmSaltLength)

	block, err := aes.NewCipher(srtpKey)
	if err != nil {
		return nil, err
	}
	block2, err := aes.NewCipher(srtcpKey)
	if err != nil {
		return nil, err
	}
	c.srtpBlock = block
	c.srtpSalt = srtpSalt
	c.srtpAuth = hmacSHA1(srtpAuthKey, protection.authTagLength())
	c.srtcpBlock = block2
	c.srtcpSalt = srtcpSalt
	c.srtcpAuth = hmacSHA1(srtcpAuthKey, protection.authTagLength())
	return c, nil
}

// cmKeystream XORs payload in place with the AES-CM keystream selected by
// ssrc and index (RFC 3711 §4.1.1).
func cmKeystream(block cipher.Block, salt []byte, ssrc uint32, index uint64, payload []byte) {
	iv := make([]byte, aes.BlockSize)
	copy(iv, salt)
	clearBytes(iv[len(salt):])
	xor32(iv[4:], ssrc)
	xor64(iv[6:], index)
	cipher.NewCTR(block, iv).XORKeyStream(payload, payload)
}

// gcmNonce builds the 12-byte GCM IV for ssrc/index (RFC 7714 §8.1).
func gcmNonce(salt []byte, ssrc uint32, index uint64) []byte {
	iv := make([]byte, gcmSaltLength)
	copy(iv, salt)
	xor32(iv[2:], ssrc)
	xor64(iv[4:], trunc(index, 48))
	return iv
}

func hmacSHA1(key []byte, tagLength int) func([]byte) []byte {
	pool := sync.Pool{New: func() interface{} { return hmac.New(sha1.New, key) }}
	return func(m []byte) []byte {
		mac := pool.Get().(hash.Hash)
		mac.Write(m)
		tag := mac.Sum(nil)[:tagLength]
		mac.Reset()
		pool.Put(mac)
		return tag
	}
}
