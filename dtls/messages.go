package dtls

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"fmt"
)

// clientRandom / serverRandom are the 32-byte nonces exchanged in
// ClientHello/ServerHello and mixed into the master secret (RFC 5246 §7.4.1.2).
type helloRandom [32]byte

func newHelloRandom() (helloRandom, error) {
	var r helloRandom
	_, err := rand.Read(r[:])
	return r, err
}

// clientHello is the body of a ClientHello handshake message (RFC 5246
// §7.4.1.2, RFC 6347 §4.2.2 adds the cookie field).
type clientHello struct {
	random             helloRandom
	sessionID          []byte
	cookie             []byte
	cipherSuites       []CipherSuite
	compressionMethods []uint8
	extensions         []extension
}

func (h *clientHello) marshal() []byte {
	var b []byte
	b = append(b, protocolVersionDTLS12[:]...)
	b = append(b, h.random[:]...)
	b = append(b, byte(len(h.sessionID)))
	b = append(b, h.sessionID...)
	b = append(b, byte(len(h.cookie)))
	b = append(b, h.cookie...)

	csLen := make([]byte, 2)
	binary.BigEndian.PutUint16(csLen, uint16(2*len(h.cipherSuites)))
	b = append(b, csLen...)
	for _, cs := range h.cipherSuites {
		csb := make([]byte, 2)
		binary.BigEndian.PutUint16(csb, uint16(cs))
		b = append(b, csb...)
	}

	b = append(b, byte(len(h.compressionMethods)))
	b = append(b, h.compressionMethods...)

	b = append(b, marshalExtensions(h.extensions)...)
	return b
}

func unmarshalClientHello(b []byte) (clientHello, error) {
	var h clientHello
	if len(b) < 2+32+1 {
		return h, fmt.Errorf("dtls: ClientHello too short")
	}
	// b[0:2] is the client's advertised version; DTLS 1.2 peers are accepted
	// regardless of the exact value sent (some stacks send 1.0 for compat).
	copy(h.random[:], b[2:34])
	pos := 34

	slen := int(b[pos])
	pos++
	h.sessionID = append([]byte(nil), b[pos:pos+slen]...)
	pos += slen

	clen := int(b[pos])
	pos++
	h.cookie = append([]byte(nil), b[pos:pos+clen]...)
	pos += clen

	if pos+2 > len(b) {
		return h, fmt.Errorf("dtls: ClientHello truncated before cipher suites")
	}
	csByteLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	for i := 0; i < csByteLen; i += 2 {
		h.cipherSuites = append(h.cipherSuites, CipherSuite(binary.BigEndian.Uint16(b[pos+i:pos+i+2])))
	}
	pos += csByteLen

	cmLen := int(b[pos])
	pos++
	h.compressionMethods = append([]byte(nil), b[pos:pos+cmLen]...)
	pos += cmLen

	exts, err := parseExtensions(b[pos:])
	if err != nil {
		return h, err
	}
	h.extensions = exts
	return h, nil
}

// helloVerifyRequest carries the stateless anti-DoS cookie the client must
// echo back in its second ClientHello (RFC 6347 §4.2.1).
type helloVerifyRequest struct {
	cookie []byte
}

func (h *helloVerifyRequest) marshal() []byte {
	b := append([]byte{}, protocolVersionDTLS12[:]...)
	b = append(b, byte(len(h.cookie)))
	b = append(b, h.cookie...)
	return b
}

func unmarshalHelloVerifyRequest(b []byte) (helloVerifyRequest, error) {
	var h helloVerifyRequest
	if len(b) < 3 {
		return h, fmt.Errorf("dtls: HelloVerifyRequest too short")
	}
	clen := int(b[2])
	if 3+clen > len(b) {
		return h, fmt.Errorf("dtls: HelloVerifyRequest cookie length mismatch")
	}
	h.cookie = append([]byte(nil), b[3:3+clen]...)
	return h, nil
}

// serverHello is the body of a ServerHello handshake message (RFC 5246 §7.4.1.3).
type serverHello struct {
	random            helloRandom
	sessionID         []byte
	cipherSuite       CipherSuite
	compressionMethod uint8
	extensions        []extension
}

func (h *serverHello) marshal() []byte {
	var b []byte
	b = append(b, protocolVersionDTLS12[:]...)
	b = append(b, h.random[:]...)
	b = append(b, byte(len(h.sessionID)))
	b = append(b, h.sessionID...)
	csb := make([]byte, 2)
	binary.BigEndian.PutUint16(csb, uint16(h.cipherSuite))
	b = append(b, csb...)
	b = append(b, h.compressionMethod)
	b = append(b, marshalExtensions(h.extensions)...)
	return b
}

func unmarshalServerHello(b []byte) (serverHello, error) {
	var h serverHello
	if len(b) < 2+32+1 {
		return h, fmt.Errorf("dtls: ServerHello too short")
	}
	copy(h.random[:], b[2:34])
	pos := 34
	slen := int(b[pos])
	pos++
	h.sessionID = append([]byte(nil), b[pos:pos+slen]...)
	pos += slen
	if pos+3 > len(b) {
		return h, fmt.Errorf("dtls: ServerHello truncated before cipher suite")
	}
	h.cipherSuite = CipherSuite(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	h.compressionMethod = b[pos]
	pos++
	exts, err := parseExtensions(b[pos:])
	if err != nil {
		return h, err
	}
	h.extensions = exts
	return h, nil
}

// marshalCertificateChain encodes the DER-encoded certificate chain for a
// Certificate handshake message (RFC 5246 §7.4.2): a 24-bit total length
// followed by each certificate prefixed with its own 24-bit length.
func marshalCertificateChain(chain [][]byte) []byte {
	var certs []byte
	for _, der := range chain {
		hdr := make([]byte, 3)
		put24(hdr, uint32(len(der)))
		certs = append(certs, hdr...)
		certs = append(certs, der...)
	}
	b := make([]byte, 3+len(certs))
	put24(b[0:3], uint32(len(certs)))
	copy(b[3:], certs)
	return b
}

func unmarshalCertificateChain(b []byte) ([]*x509.Certificate, error) {
	if len(b) < 3 {
		return nil, fmt.Errorf("dtls: Certificate message too short")
	}
	total := get24(b[0:3])
	b = b[3:]
	if int(total) != len(b) {
		return nil, fmt.Errorf("dtls: Certificate chain length mismatch: header says %d, got %d", total, len(b))
	}
	var certs []*x509.Certificate
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, fmt.Errorf("dtls: truncated certificate entry")
		}
		certLen := get24(b[0:3])
		if 3+int(certLen) > len(b) {
			return nil, fmt.Errorf("dtls: certificate entry length mismatch")
		}
		cert, err := x509.ParseCertificate(b[3 : 3+certLen])
		if err != nil {
			return nil, fmt.Errorf("dtls: parse certificate: %w", err)
		}
		certs = append(certs, cert)
		b = b[3+certLen:]
	}
	return certs, nil
}

// serverKeyExchange carries the server's ephemeral ECDHE public key and a
// signature over (client_random || server_random || params) proving
// possession of the certificate's private key (RFC 4492 §5.4).
type serverKeyExchange struct {
	curve     NamedCurve
	publicKey []byte
	sigAlgo   SignatureHashAlgorithm
	signature []byte
}

// signedECDHParams returns the byte string the server signs and the client
// verifies: RFC 4492 §5.4's "three random values" construction.
func signedECDHParams(clientRandom, serverRandom helloRandom, curve NamedCurve, publicKey []byte) []byte {
	b := append([]byte{}, clientRandom[:]...)
	b = append(b, serverRandom[:]...)
	b = append(b, 3, byte(curve>>8), byte(curve))
	b = append(b, byte(len(publicKey)))
	b = append(b, publicKey...)
	return b
}

func (ske *serverKeyExchange) marshal() []byte {
	var b []byte
	b = append(b, 3, byte(ske.curve>>8), byte(ske.curve)) // curve_type=named_curve(3)
	b = append(b, byte(len(ske.publicKey)))
	b = append(b, ske.publicKey...)
	b = append(b, ske.sigAlgo.Hash, ske.sigAlgo.Signature)
	sigLen := make([]byte, 2)
	binary.BigEndian.PutUint16(sigLen, uint16(len(ske.signature)))
	b = append(b, sigLen...)
	b = append(b, ske.signature...)
	return b
}

func unmarshalServerKeyExchange(b []byte) (serverKeyExchange, error) {
	var ske serverKeyExchange
	if len(b) < 4 {
		return ske, fmt.Errorf("dtls: ServerKeyExchange too short")
	}
	curveType := b[0]
	if curveType != 3 {
		return ske, fmt.Errorf("dtls: unsupported ECCurveType %d (only named_curve is supported)", curveType)
	}
	ske.curve = NamedCurve(binary.BigEndian.Uint16(b[1:3]))
	pubLen := int(b[3])
	pos := 4
	if pos+pubLen > len(b) {
		return ske, fmt.Errorf("dtls: ServerKeyExchange public key truncated")
	}
	ske.publicKey = append([]byte(nil), b[pos:pos+pubLen]...)
	pos += pubLen
	if pos+4 > len(b) {
		return ske, fmt.Errorf("dtls: ServerKeyExchange truncated before signature")
	}
	ske.sigAlgo = SignatureHashAlgorithm{Hash: b[pos], Signature: b[pos+1]}
	pos += 2
	sigLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	if pos+sigLen > len(b) {
		return ske, fmt.Errorf("dtls: ServerKeyExchange signature truncated")
	}
	ske.signature = append([]byte(nil), b[pos:pos+sigLen]...)
	return ske, nil
}

// clientKeyExchange carries the client's ephemeral ECDHE public key (RFC
// 4492 §5.7, ecdh_Yc form).
type clientKeyExchange struct {
	publicKey []byte
}

func (cke *clientKeyExchange) marshal() []byte {
	return append([]byte{byte(len(cke.publicKey))}, cke.publicKey...)
}

func unmarshalClientKeyExchange(b []byte) (clientKeyExchange, error) {
	var cke clientKeyExchange
	if len(b) < 1 {
		return cke, fmt.Errorf("dtls: ClientKeyExchange too short")
	}
	pubLen := int(b[0])
	if 1+pubLen != len(b) {
		return cke, fmt.Errorf("dtls: ClientKeyExchange public key length mismatch")
	}
	cke.publicKey = append([]byte(nil), b[1:]...)
	return cke, nil
}

// certificateVerify proves, for client-auth handshakes, possession of the
// client certificate's private key by signing the handshake transcript
// (RFC 5246 §7.4.8). The engine never requests client certificates
// (CertificateRequest is not sent), so this type exists for completeness
// of the wire format and is unused by the handshake state machine.
type certificateVerify struct {
	sigAlgo   SignatureHashAlgorithm
	signature []byte
}

func (cv *certificateVerify) marshal() []byte {
	b := []byte{cv.sigAlgo.Hash, cv.sigAlgo.Signature}
	sigLen := make([]byte, 2)
	binary.BigEndian.PutUint16(sigLen, uint16(len(cv.signature)))
	b = append(b, sigLen...)
	return append(b, cv.signature...)
}

// finished carries verify_data = PRF(master_secret, label, transcript_hash)[0:12]
// (RFC 5246 §7.4.9).
type finished struct {
	verifyData []byte
}

func (f *finished) marshal() []byte {
	return append([]byte(nil), f.verifyData...)
}

func unmarshalFinished(b []byte) finished {
	return finished{verifyData: append([]byte(nil), b...)}
}

// useSRTPExtensionData is the body of the use_srtp extension (RFC 5764 §4.1.1).
type useSRTPExtensionData struct {
	profiles []SRTPProtectionProfile
	mki      []byte
}

func (u useSRTPExtensionData) marshal() []byte {
	profileBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(profileBytes, uint16(2*len(u.profiles)))
	for _, p := range u.profiles {
		pb := make([]byte, 2)
		binary.BigEndian.PutUint16(pb, uint16(p))
		profileBytes = append(profileBytes, pb...)
	}
	return append(append(profileBytes, byte(len(u.mki))), u.mki...)
}

func unmarshalUseSRTPExtensionData(b []byte) (useSRTPExtensionData, error) {
	var u useSRTPExtensionData
	if len(b) < 2 {
		return u, fmt.Errorf("dtls: use_srtp extension too short")
	}
	plen := int(binary.BigEndian.Uint16(b[0:2]))
	pos := 2
	if pos+plen > len(b) {
		return u, fmt.Errorf("dtls: use_srtp profile list truncated")
	}
	for i := 0; i < plen; i += 2 {
		u.profiles = append(u.profiles, SRTPProtectionProfile(binary.BigEndian.Uint16(b[pos+i:pos+i+2])))
	}
	pos += plen
	if pos >= len(b) {
		return u, nil
	}
	mkiLen := int(b[pos])
	pos++
	if pos+mkiLen > len(b) {
		return u, fmt.Errorf("dtls: use_srtp MKI truncated")
	}
	u.mki = append([]byte(nil), b[pos:pos+mkiLen]...)
	return u, nil
}

func marshalSupportedGroups(curves []NamedCurve) []byte {
	b := make([]byte, 1, 1+2*len(curves))
	b[0] = byte(2 * len(curves))
	for _, c := range curves {
		cb := make([]byte, 2)
		binary.BigEndian.PutUint16(cb, uint16(c))
		b = append(b, cb...)
	}
	return b
}

func marshalSignatureAlgorithms(algos []SignatureHashAlgorithm) []byte {
	b := make([]byte, 2, 2+2*len(algos))
	binary.BigEndian.PutUint16(b, uint16(2*len(algos)))
	for _, a := range algos {
		b = append(b, a.Hash, a.Signature)
	}
	return b
}
