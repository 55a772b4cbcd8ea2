package dtls

import (
	"crypto"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRejectPeerCert = errors.New("test: reject peer certificate")

func TestRecordMarshalRoundTrip(t *testing.T) {
	r := record{
		contentType:    ContentTypeHandshake,
		version:        protocolVersionDTLS12,
		epoch:          1,
		sequenceNumber: 0x0102030405,
		fragment:       []byte("hello"),
	}
	raw := r.marshal()

	var got record
	require.NoError(t, got.unmarshal(raw))
	assert.Equal(t, r, got)
}

func TestSplitRecordsMultiple(t *testing.T) {
	r1 := record{contentType: ContentTypeHandshake, version: protocolVersionDTLS12, fragment: []byte("one")}
	r2 := record{contentType: ContentTypeChangeCipherSpec, version: protocolVersionDTLS12, sequenceNumber: 1, fragment: []byte{1}}
	datagram := append(r1.marshal(), r2.marshal()...)

	records, err := splitRecords(datagram)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("one"), records[0].fragment)
	assert.Equal(t, []byte{1}, records[1].fragment)
}

func TestHandshakeMessageRoundTrip(t *testing.T) {
	msg := newHandshakeMessage(HandshakeTypeClientHello, 3, []byte("body-bytes"))
	raw := msg.marshal()

	got, err := unmarshalHandshakeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, HandshakeTypeClientHello, got.messageType)
	assert.Equal(t, uint16(3), got.messageSeq)
	assert.Equal(t, []byte("body-bytes"), got.body)
}

func TestUnmarshalHandshakeMessageRejectsFragment(t *testing.T) {
	h := handshakeHeader{messageType: HandshakeTypeClientHello, length: 10, fragmentOffset: 5, fragmentLength: 5}
	raw := append(h.marshal(), make([]byte, 5)...)

	_, err := unmarshalHandshakeMessage(raw)
	assert.Error(t, err)
}

func TestExtensionsRoundTrip(t *testing.T) {
	exts := []extension{
		{ExtensionSupportedGroups, []byte{1, 2, 3}},
		{ExtensionUseSRTP, []byte{4, 5}},
	}
	raw := marshalExtensions(exts)

	got, err := parseExtensions(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)

	data, ok := findExtension(got, ExtensionUseSRTP)
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5}, data)

	_, ok = findExtension(got, ExtensionECPointFormats)
	assert.False(t, ok)
}

func TestParseExtensionsEmpty(t *testing.T) {
	got, err := parseExtensions(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClientHelloRoundTrip(t *testing.T) {
	random, err := newHelloRandom()
	require.NoError(t, err)

	ch := clientHello{
		random:             random,
		sessionID:          nil,
		cookie:             []byte{9, 9, 9},
		cipherSuites:       offeredCipherSuites,
		compressionMethods: []uint8{0},
		extensions:         buildClientHelloExtensions(),
	}
	raw := ch.marshal()

	got, err := unmarshalClientHello(raw)
	require.NoError(t, err)
	assert.Equal(t, ch.random, got.random)
	assert.Equal(t, ch.cookie, got.cookie)
	assert.Equal(t, ch.cipherSuites, got.cipherSuites)
	assert.Len(t, got.extensions, len(ch.extensions))
}

func TestHelloVerifyRequestRoundTrip(t *testing.T) {
	hvr := helloVerifyRequest{cookie: []byte("a-twenty-byte-cookie")}
	got, err := unmarshalHelloVerifyRequest(hvr.marshal())
	require.NoError(t, err)
	assert.Equal(t, hvr.cookie, got.cookie)
}

func TestServerHelloRoundTrip(t *testing.T) {
	random, err := newHelloRandom()
	require.NoError(t, err)

	sh := serverHello{
		random:            random,
		cipherSuite:       TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		compressionMethod: 0,
		extensions: []extension{
			{ExtensionUseSRTP, useSRTPExtensionData{profiles: []SRTPProtectionProfile{SRTP_AES128_CM_HMAC_SHA1_80}}.marshal()},
		},
	}
	got, err := unmarshalServerHello(sh.marshal())
	require.NoError(t, err)
	assert.Equal(t, sh.random, got.random)
	assert.Equal(t, sh.cipherSuite, got.cipherSuite)
	require.Len(t, got.extensions, 1)
}

func TestCertificateChainRoundTrip(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	raw := marshalCertificateChain(cert.Certificate)
	certs, err := unmarshalCertificateChain(raw)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, cert.Certificate[0], certs[0].Raw)
}

func TestServerKeyExchangeRoundTrip(t *testing.T) {
	ske := serverKeyExchange{
		curve:     NamedCurveX25519,
		publicKey: []byte{1, 2, 3, 4},
		sigAlgo:   SignatureHashAlgorithm{hashSHA256, sigECDSA},
		signature: []byte("a-signature-blob"),
	}
	got, err := unmarshalServerKeyExchange(ske.marshal())
	require.NoError(t, err)
	assert.Equal(t, ske, got)
}

func TestClientKeyExchangeRoundTrip(t *testing.T) {
	cke := clientKeyExchange{publicKey: []byte{5, 6, 7, 8, 9}}
	got, err := unmarshalClientKeyExchange(cke.marshal())
	require.NoError(t, err)
	assert.Equal(t, cke.publicKey, got.publicKey)
}

func TestFinishedRoundTrip(t *testing.T) {
	fin := finished{verifyData: []byte("123456789012")}
	got := unmarshalFinished(fin.marshal())
	assert.Equal(t, fin.verifyData, got.verifyData)
}

func TestUseSRTPExtensionDataRoundTrip(t *testing.T) {
	u := useSRTPExtensionData{
		profiles: []SRTPProtectionProfile{SRTP_AES128_CM_HMAC_SHA1_80, SRTP_AES128_CM_HMAC_SHA1_32},
		mki:      nil,
	}
	got, err := unmarshalUseSRTPExtensionData(u.marshal())
	require.NoError(t, err)
	assert.Equal(t, u.profiles, got.profiles)
}

func TestPHashDeterministic(t *testing.T) {
	a := pHash([]byte("secret"), []byte("seed"), 32)
	b := pHash([]byte("secret"), []byte("seed"), 32)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := pHash([]byte("other-secret"), []byte("seed"), 32)
	assert.NotEqual(t, a, c)
}

func TestComputeMasterSecretShape(t *testing.T) {
	var cr, sr helloRandom
	cr[0], sr[0] = 1, 2

	ms := computeMasterSecret([]byte("shared-secret-bytes"), cr, sr, false, nil)
	assert.Len(t, ms, masterSecretLen)

	emsHash := transcriptHash([]byte("transcript"))
	ms2 := computeMasterSecret([]byte("shared-secret-bytes"), cr, sr, true, emsHash)
	assert.Len(t, ms2, masterSecretLen)
	assert.NotEqual(t, ms, ms2)
}

func TestComputeKeyBlockDistinctKeys(t *testing.T) {
	var cr, sr helloRandom
	cr[0], sr[0] = 1, 2
	ms := computeMasterSecret([]byte("another-shared-secret"), cr, sr, false, nil)

	kb := computeKeyBlock(ms, cr, sr)
	assert.Len(t, kb.clientWriteKey, gcmKeyLen)
	assert.Len(t, kb.serverWriteKey, gcmKeyLen)
	assert.Len(t, kb.clientWriteIV, gcmFixedIVLen)
	assert.Len(t, kb.serverWriteIV, gcmFixedIVLen)
	assert.NotEqual(t, kb.clientWriteKey, kb.serverWriteKey)
}

func TestVerifyDataLength(t *testing.T) {
	vd := verifyData([]byte("master-secret-bytes-000000000000"), clientFinishedLabel, transcriptHash([]byte("xyz")))
	assert.Len(t, vd, 12)
}

func TestECDHSharedSecretSymmetricX25519(t *testing.T) {
	a, err := generateECDHKeyPair(NamedCurveX25519)
	require.NoError(t, err)
	b, err := generateECDHKeyPair(NamedCurveX25519)
	require.NoError(t, err)

	secretA, err := a.sharedSecret(b.publicKeyBytes())
	require.NoError(t, err)
	secretB, err := b.sharedSecret(a.publicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}

func TestECDHSharedSecretSymmetricP256(t *testing.T) {
	a, err := generateECDHKeyPair(NamedCurveSECP256R1)
	require.NoError(t, err)
	b, err := generateECDHKeyPair(NamedCurveSECP256R1)
	require.NoError(t, err)

	secretA, err := a.sharedSecret(b.publicKeyBytes())
	require.NoError(t, err)
	secretB, err := b.sharedSecret(a.publicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}

func TestSelectCurvePrefersX25519(t *testing.T) {
	got, err := selectCurve([]NamedCurve{NamedCurveSECP256R1, NamedCurveX25519})
	require.NoError(t, err)
	assert.Equal(t, NamedCurveX25519, got)
}

func TestSelectCurveNoOverlap(t *testing.T) {
	_, err := selectCurve([]NamedCurve{NamedCurve(9999)})
	assert.Error(t, err)
}

func TestSignVerifyParamsECDSA(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)
	signer := cert.PrivateKey.(crypto.Signer)

	leaf, err := unmarshalCertificateChain(marshalCertificateChain(cert.Certificate))
	require.NoError(t, err)
	require.Len(t, leaf, 1)

	params := []byte("some-ecdhe-params-blob")
	algo, sig, err := signParams(signer, params)
	require.NoError(t, err)

	err = verifyParams(leaf[0], algo, params, sig)
	assert.NoError(t, err)

	err = verifyParams(leaf[0], algo, []byte("tampered-params"), sig)
	assert.Error(t, err)
}

func TestRecordCipherSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, gcmKeyLen)
	iv := make([]byte, gcmFixedIVLen)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range iv {
		iv[i] = byte(i + 10)
	}

	rc, err := newRecordCipher(key, iv)
	require.NoError(t, err)

	plaintext := []byte("application data payload")
	sealed := rc.seal(1, 42, ContentTypeApplicationData, protocolVersionDTLS12, plaintext)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := rc.open(1, 42, ContentTypeApplicationData, protocolVersionDTLS12, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = rc.open(1, 43, ContentTypeApplicationData, protocolVersionDTLS12, sealed)
	assert.Error(t, err)
}

func TestFingerprintFormat(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	fp, err := Fingerprint(cert, HashAlgorithmSHA256)
	require.NoError(t, err)
	assert.Contains(t, fp, "sha-256 ")
	assert.Len(t, fp, len("sha-256 ")+32*2+31)
}

// udpPipe wires up a real loopback UDP pair so SetReadDeadline-based
// retransmission timing in readFlight behaves as it would over a live
// socket, unlike net.Pipe which has no deadline semantics.
func udpPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	aAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	a, err := net.ListenUDP("udp", aAddr)
	require.NoError(t, err)
	bAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	b, err := net.ListenUDP("udp", bAddr)
	require.NoError(t, err)

	ac, err := net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	bc, err := net.DialUDP("udp", nil, a.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	a.Close()
	b.Close()
	return ac, bc
}

func TestHandshakeClientServer(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	clientConn, serverConn := udpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	type result struct {
		conn *Conn
		err  error
	}
	clientResult := make(chan result, 1)
	serverResult := make(chan result, 1)

	go func() {
		c, err := Client(clientConn, Config{Certificate: cert})
		clientResult <- result{c, err}
	}()
	go func() {
		s, err := Server(serverConn, Config{Certificate: cert})
		serverResult <- result{s, err}
	}()

	timeout := time.After(10 * time.Second)
	var cr, sr result
	for i := 0; i < 2; i++ {
		select {
		case cr = <-clientResult:
		case sr = <-serverResult:
		case <-timeout:
			t.Fatal("handshake did not complete in time")
		}
	}

	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	require.Equal(t, StateConnected, cr.conn.State())
	require.Equal(t, StateConnected, sr.conn.State())

	clientKeys, err := cr.conn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 2*(gcmKeyLen+gcmFixedIVLen))
	require.NoError(t, err)
	serverKeys, err := sr.conn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 2*(gcmKeyLen+gcmFixedIVLen))
	require.NoError(t, err)
	assert.Equal(t, clientKeys, serverKeys)

	assert.Equal(t, cr.conn.SelectedSRTPProtectionProfile(), sr.conn.SelectedSRTPProtectionProfile())
	assert.NotNil(t, cr.conn.PeerCertificate())
	// The server sends no CertificateRequest, so the client presents none.
	assert.Nil(t, sr.conn.PeerCertificate())
}

func TestHandshakeRejectsPeerCertificate(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	clientConn, serverConn := udpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	clientErr := make(chan error, 1)
	serverErr := make(chan error, 1)

	go func() {
		_, err := Client(clientConn, Config{
			Certificate: cert,
			VerifyPeerCertificate: func(peer *x509.Certificate) error {
				return errRejectPeerCert
			},
		})
		clientErr <- err
	}()
	go func() {
		_, err := Server(serverConn, Config{Certificate: cert})
		serverErr <- err
	}()

	timeout := time.After(10 * time.Second)
	select {
	case err := <-clientErr:
		assert.Error(t, err)
	case <-serverErr:
	case <-timeout:
		t.Fatal("handshake did not complete in time")
	}
}
