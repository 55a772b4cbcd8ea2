package srtp

import (
	"crypto/hmac"
	"encoding/binary"
	"sync"
)

// Session applies SRTP/SRTCP protection for one direction (send or receive)
// of one DTLS-SRTP association. A bound RTP session holds one Session per
// direction, each with its own Context built from that direction's key/salt
// half of a single DTLS keying-material export.
type Session struct {
	mu     sync.Mutex
	crypto *Context

	outROC map[uint32]uint32
	outSeq map[uint32]uint16
	in     map[uint32]*inboundStream

	srtcpOutIndex uint32
	srtcpIn       map[uint32]*inboundStream
}

type inboundStream struct {
	roc    rocState
	replay replayWindow
}

// NewSession constructs a Session bound to crypto.
func NewSession(crypto *Context) *Session {
	return &Session{
		crypto:  crypto,
		outROC:  make(map[uint32]uint32),
		outSeq:  make(map[uint32]uint16),
		in:      make(map[uint32]*inboundStream),
		srtcpIn: make(map[uint32]*inboundStream),
	}
}

// nextOutboundIndex returns the 48-bit packet index for an outbound RTP
// packet on ssrc with sequence number seq, incrementing the rollover
// counter when seq wraps around 0.
func (s *Session) nextOutboundIndex(ssrc uint32, seq uint16) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	roc := s.outROC[ssrc]
	if last, ok := s.outSeq[ssrc]; ok && last > 0xff00 && seq < 0x00ff {
		roc++
	}
	s.outROC[ssrc] = roc
	s.outSeq[ssrc] = seq
	return uint64(roc)<<16 | uint64(seq)
}

// ProtectRTP encrypts packet's payload (everything after headerLen bytes)
// in place and appends the authentication tag (or, for the AEAD profile,
// returns a new buffer with the AEAD tag appended). packet must already
// have its final header bytes (including any extensions) written.
func (s *Session) ProtectRTP(packet []byte, headerLen int, ssrc uint32, seq uint16) ([]byte, error) {
	if headerLen > len(packet) {
		return nil, ErrMalformed
	}
	index := s.nextOutboundIndex(ssrc, seq)

	if s.crypto.protection.isAEAD() {
		nonce := gcmNonce(s.crypto.srtpSalt, ssrc, index)
		sealed := s.crypto.srtpAEAD.Seal(nil, nonce, packet[headerLen:], packet[:headerLen])
		out := make([]byte, headerLen+len(sealed))
		copy(out, packet[:headerLen])
		copy(out[headerLen:], sealed)
		return out, nil
	}

	cmKeystream(s.crypto.srtpBlock, s.crypto.srtpSalt, ssrc, trunc(index, 48), packet[headerLen:])

	buf := make([]byte, len(packet)+4)
	copy(buf, packet)
	binary.BigEndian.PutUint32(buf[len(packet):], uint32(index>>16))
	tag := s.crypto.srtpAuth(buf)
	return append(packet, tag...), nil
}

// UnprotectRTP authenticates and decrypts an inbound SRTP packet, returning
// the plaintext (header unchanged, payload decrypted, tag stripped).
func (s *Session) UnprotectRTP(packet []byte, headerLen int, ssrc uint32, seq uint16) ([]byte, error) {
	s.mu.Lock()
	stream, ok := s.in[ssrc]
	if !ok {
		stream = &inboundStream{}
		s.in[ssrc] = stream
	}
	index := stream.roc.guessIndex(seq)
	replay := stream.replay.check(index)
	s.mu.Unlock()

	if replay {
		return nil, ErrReplay
	}

	var payload []byte
	var err error
	if s.crypto.protection.isAEAD() {
		payload, err = s.unprotectRTPAEAD(packet, headerLen, ssrc, index)
	} else {
		payload, err = s.unprotectRTPCM(packet, headerLen, ssrc, index)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stream.roc.accept(seq, index)
	stream.replay.accept(index)
	s.mu.Unlock()
	return payload, nil
}

func (s *Session) unprotectRTPAEAD(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	if headerLen > len(packet) {
		return nil, ErrMalformed
	}
	nonce := gcmNonce(s.crypto.srtpSalt, ssrc, index)
	plain, err := s.crypto.srtpAEAD.Open(nil, nonce, packet[headerLen:], packet[:headerLen])
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

func (s *Session) unprotectRTPCM(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	tagLen := s.crypto.protection.authTagLength()
	tagStart := len(packet) - tagLen
	if tagStart < headerLen {
		return nil, ErrMalformed
	}

	saved := append([]byte(nil), packet[tagStart:]...)
	binary.BigEndian.PutUint32(packet[tagStart:], uint32(index>>16))
	expected := s.crypto.srtpAuth(packet[:tagStart+4])
	copy(packet[tagStart:], saved)

	if !hmac.Equal(expected, packet[tagStart:]) {
		return nil, ErrAuthFailed
	}

	payload := packet[headerLen:tagStart]
	cmKeystream(s.crypto.srtpBlock, s.crypto.srtpSalt, ssrc, trunc(index, 48), payload)
	return payload, nil
}

// ProtectRTCP encrypts and authenticates a (possibly compound) RTCP packet,
// appending the explicit SRTCP index (with the encrypted bit set) and the
// authentication tag, per RFC 3711 §3.4. body is everything after the
// first RTCP packet's 8-byte SSRC-bearing prefix is not required here: the
// whole compound buffer (starting at its first RTCP header) is encrypted
// after the first 8 bytes, matching RFC 5506's reduced-size SRTCP handling.
func (s *Session) ProtectRTCP(body []byte) ([]byte, error) {
	if len(body) < 8 {
		return nil, ErrMalformed
	}
	ssrc := binary.BigEndian.Uint32(body[4:8])

	s.mu.Lock()
	index := s.srtcpOutIndex
	s.srtcpOutIndex++
	s.mu.Unlock()
	index &= 0x7fffffff

	if s.crypto.protection.isAEAD() {
		nonce := gcmNonce(s.crypto.srtcpSalt, ssrc, uint64(index))
		sealed := s.crypto.srtcpAEAD.Seal(nil, nonce, body[8:], body[:8])
		out := make([]byte, 8+len(sealed)+4)
		copy(out, body[:8])
		copy(out[8:], sealed)
		binary.BigEndian.PutUint32(out[8+len(sealed):], 0x80000000|index)
		return out, nil
	}

	cmKeystream(s.crypto.srtcpBlock, s.crypto.srtcpSalt, ssrc, uint64(index), body[8:])

	buf := make([]byte, len(body)+4)
	copy(buf, body)
	binary.BigEndian.PutUint32(buf[len(body):], 0x80000000|index)
	tag := s.crypto.srtcpAuth(buf)
	return append(buf, tag...), nil
}

// UnprotectRTCP authenticates, decrypts, and strips the SRTCP index/tag
// from an inbound (possibly compound) SRTCP packet.
func (s *Session) UnprotectRTCP(packet []byte) ([]byte, error) {
	if len(packet) < 8 {
		return nil, ErrMalformed
	}
	ssrc := binary.BigEndian.Uint32(packet[4:8])

	tagLen := s.crypto.protection.authTagLength()
	if s.crypto.protection.isAEAD() {
		tagLen = 0 // the GCM tag is inside the AEAD-sealed region, not a trailing HMAC
	}
	indexStart := len(packet) - tagLen - 4
	if indexStart < 8 {
		return nil, ErrMalformed
	}

	rawIndex := binary.BigEndian.Uint32(packet[indexStart:])
	encrypted := rawIndex&0x80000000 != 0
	index := rawIndex &^ 0x80000000

	s.mu.Lock()
	stream, ok := s.srtcpIn[ssrc]
	if !ok {
		stream = &inboundStream{}
		s.srtcpIn[ssrc] = stream
	}
	replay := stream.replay.check(uint64(index))
	s.mu.Unlock()
	if replay {
		return nil, ErrReplay
	}

	var payload []byte
	if s.crypto.protection.isAEAD() {
		if !encrypted {
			return nil, ErrMalformed
		}
		nonce := gcmNonce(s.crypto.srtcpSalt, ssrc, uint64(index))
		plain, err := s.crypto.srtcpAEAD.Open(nil, nonce, packet[8:indexStart], packet[:8])
		if err != nil {
			return nil, ErrAuthFailed
		}
		payload = plain
	} else {
		tagStart := len(packet) - tagLen
		expected := s.crypto.srtcpAuth(packet[:tagStart])
		if !hmac.Equal(expected, packet[tagStart:]) {
			return nil, ErrAuthFailed
		}
		body := packet[8:indexStart]
		if encrypted {
			cmKeystream(s.crypto.srtcpBlock, s.crypto.srtcpSalt, ssrc, uint64(index), body)
		}
		payload = body
	}

	s.mu.Lock()
	stream.replay.accept(uint64(index))
	s.mu.Unlock()

	out := make([]byte, 8+len(payload))
	copy(out, packet[:8])
	copy(out[8:], payload)
	return out, nil
}
