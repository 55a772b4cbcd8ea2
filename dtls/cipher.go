package dtls

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// recordCipher protects and unprotects DTLS records once the handshake
// has installed keys for an epoch (RFC 6347 §4.1, RFC 5288 for the
// AES-128-GCM record protection itself). The nonce's explicit half is the
// record's own epoch+sequence_number, following RFC 6347's guidance that
// DTLS need not carry a separate explicit nonce since the record header
// already supplies a per-record unique value.
type recordCipher struct {
	aead cipher.AEAD
	iv   [gcmFixedIVLen]byte
}

func newRecordCipher(key, iv []byte) (*recordCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("dtls: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dtls: new GCM: %w", err)
	}
	rc := &recordCipher{aead: aead}
	copy(rc.iv[:], iv)
	return rc, nil
}

func (rc *recordCipher) nonce(epoch uint16, seq uint64) []byte {
	n := make([]byte, 0, 12)
	n = append(n, rc.iv[:]...)
	epochSeq := make([]byte, 8)
	binary.BigEndian.PutUint16(epochSeq[0:2], epoch)
	put48(epochSeq[2:8], seq)
	return append(n, epochSeq...)
}

// additionalData reconstructs the AAD for AEAD record protection (RFC
// 5246 §6.2.3.3, extended with epoch per RFC 6347 §4.1.2.1): the 8-byte
// epoch+sequence_number, content type, version, and the plaintext length.
func additionalData(epoch uint16, seq uint64, contentType ContentType, version [2]uint8, plaintextLen int) []byte {
	ad := make([]byte, 13)
	binary.BigEndian.PutUint16(ad[0:2], epoch)
	put48(ad[2:8], seq)
	ad[8] = byte(contentType)
	ad[9], ad[10] = version[0], version[1]
	binary.BigEndian.PutUint16(ad[11:13], uint16(plaintextLen))
	return ad
}

// seal encrypts plaintext into a DTLS-GCM ciphertext record fragment.
func (rc *recordCipher) seal(epoch uint16, seq uint64, contentType ContentType, version [2]uint8, plaintext []byte) []byte {
	ad := additionalData(epoch, seq, contentType, version, len(plaintext))
	nonce := rc.nonce(epoch, seq)
	return rc.aead.Seal(nil, nonce, plaintext, ad)
}

// open decrypts and authenticates a DTLS-GCM ciphertext record fragment.
func (rc *recordCipher) open(epoch uint16, seq uint64, contentType ContentType, version [2]uint8, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < rc.aead.Overhead() {
		return nil, fmt.Errorf("dtls: ciphertext shorter than auth tag")
	}
	plaintextLen := len(ciphertext) - rc.aead.Overhead()
	ad := additionalData(epoch, seq, contentType, version, plaintextLen)
	nonce := rc.nonce(epoch, seq)
	return rc.aead.Open(nil, nonce, ciphertext, ad)
}
