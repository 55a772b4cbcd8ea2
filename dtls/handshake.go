package dtls

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"golang.org/x/xerrors"
)

// serverCookieSecret is generated once per process and used to compute
// stateless HelloVerifyRequest cookies (RFC 6347 §4.2.1): cookie =
// HMAC(secret, peerAddress || clientHello.random), so the server need not
// remember anything about a ClientHello before its sender proves
// reachability at the claimed address by echoing the cookie back.
var serverCookieSecret = func() []byte {
	b := make([]byte, 32)
	rand.Read(b)
	return b
}()

func computeCookie(peerAddr string, clientRandom helloRandom) []byte {
	h := hmac.New(sha256.New, serverCookieSecret)
	h.Write([]byte(peerAddr))
	h.Write(clientRandom[:])
	sum := h.Sum(nil)
	return sum[:20]
}

func transcriptHash(transcript []byte) []byte {
	sum := sha256.Sum256(transcript)
	return sum[:]
}

func useSRTPExtension() extension {
	return extension{
		extensionType: ExtensionUseSRTP,
		data:          useSRTPExtensionData{profiles: offeredSRTPProfiles}.marshal(),
	}
}

func buildClientHelloExtensions() []extension {
	return []extension{
		{ExtensionSupportedGroups, marshalSupportedGroups(offeredCurves)},
		{ExtensionSignatureAlgorithms, marshalSignatureAlgorithms(offeredSignatureAlgorithms)},
		useSRTPExtension(),
		{ExtensionExtendedMasterSecret, nil},
	}
}

// handshakeClient drives flights F1 (ClientHello), F3 (ClientHello with
// cookie), F5 (ClientKeyExchange/ChangeCipherSpec/Finished) and consumes
// F2 (HelloVerifyRequest) and F4/F6 from the server (RFC 6347 §4.2.4).
func (c *Conn) handshakeClient() error {
	clientRandom, err := newHelloRandom()
	if err != nil {
		return err
	}
	c.clientRandom = clientRandom

	ch := clientHello{
		random:             clientRandom,
		cipherSuites:       offeredCipherSuites,
		compressionMethods: []uint8{0},
		extensions:         buildClientHelloExtensions(),
	}
	// F1: cookie-less ClientHello. Per RFC 6347 §4.2.1 it is excluded from
	// the transcript, so it's sent outside of appendTranscript's bookkeeping.
	f1 := c.encodeUntranscribedHandshake(HandshakeTypeClientHello, ch.marshal())
	if err := c.writeFlight([][]byte{f1}); err != nil {
		return err
	}

	records, err := c.readFlight()
	if err != nil {
		return err
	}
	hvr, err := expectSingleHandshake(records, HandshakeTypeHelloVerifyRequest, unmarshalHelloVerifyRequest)
	if err != nil {
		return err
	}
	ch.cookie = hvr.cookie

	// F3: ClientHello with cookie. Transcript starts here.
	f3 := c.encodeHandshakeRecord(HandshakeTypeClientHello, ch.marshal())
	if err := c.writeFlight([][]byte{f3}); err != nil {
		return err
	}

	flight4, err := c.readFlight()
	if err != nil {
		return err
	}
	sh, cert, ske, err := parseServerFlight(flight4)
	if err != nil {
		return err
	}
	for _, r := range flight4 {
		if r.contentType == ContentTypeHandshake {
			c.appendTranscript(r.fragment)
		}
	}
	c.serverRandom = sh.random
	c.cipherSuite = sh.cipherSuite
	if _, ok := findExtension(sh.extensions, ExtensionExtendedMasterSecret); ok {
		c.extendedMasterSecret = true
	}
	if data, ok := findExtension(sh.extensions, ExtensionUseSRTP); ok {
		chosen, err := unmarshalUseSRTPExtensionData(data)
		if err != nil {
			return err
		}
		if len(chosen.profiles) != 1 {
			return ErrNoCommonSRTPProfile
		}
		c.srtpProfile = chosen.profiles[0]
	} else {
		return ErrNoCommonSRTPProfile
	}

	if len(cert.certs) == 0 {
		return fmt.Errorf("dtls: server presented no certificate")
	}
	c.peerCert = cert.certs[0]
	if c.config.VerifyPeerCertificate != nil {
		if err := c.config.VerifyPeerCertificate(c.peerCert); err != nil {
			return xerrors.Errorf("%w: %v", ErrPeerCertificateRejected, err)
		}
	}

	params := signedECDHParams(c.clientRandom, c.serverRandom, ske.curve, ske.publicKey)
	if err := verifyParams(c.peerCert, ske.sigAlgo, params, ske.signature); err != nil {
		return xerrors.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	c.curve = ske.curve

	kp, err := generateECDHKeyPair(c.curve)
	if err != nil {
		return err
	}
	shared, err := kp.sharedSecret(ske.publicKey)
	if err != nil {
		return err
	}

	cke := clientKeyExchange{publicKey: kp.publicKeyBytes()}
	ckeRecord := c.encodeHandshakeRecord(HandshakeTypeClientKeyExchange, cke.marshal())

	var sessionHash []byte
	if c.extendedMasterSecret {
		sessionHash = transcriptHash(c.transcript)
	}
	c.masterSecret = computeMasterSecret(shared, c.clientRandom, c.serverRandom, c.extendedMasterSecret, sessionHash)
	c.keys = computeKeyBlock(c.masterSecret, c.clientRandom, c.serverRandom)

	ccsRecord := c.encodeChangeCipherSpec()
	rc, err := newRecordCipher(c.keys.clientWriteKey, c.keys.clientWriteIV)
	if err != nil {
		return err
	}
	c.writeCipher = rc

	clientVerify := verifyData(c.masterSecret, clientFinishedLabel, transcriptHash(c.transcript))
	fin := finished{verifyData: clientVerify}
	finRecord := c.encodeHandshakeRecord(HandshakeTypeFinished, fin.marshal())

	if err := c.writeFlight([][]byte{ckeRecord, ccsRecord, finRecord}); err != nil {
		return err
	}

	flight6, err := c.readFlight()
	if err != nil {
		return err
	}
	return c.verifyServerFinished(flight6)
}

func (c *Conn) verifyServerFinished(records []record) error {
	rc, err := newRecordCipher(c.keys.serverWriteKey, c.keys.serverWriteIV)
	if err != nil {
		return err
	}
	c.readCipher = rc

	for _, r := range records {
		switch r.contentType {
		case ContentTypeChangeCipherSpec:
			c.readEpoch = 1
			c.readSeq = 0
		case ContentTypeHandshake:
			plaintext, err := c.readCipher.open(c.readEpoch, c.readSeq, ContentTypeHandshake, r.version, r.fragment)
			if err != nil {
				return xerrors.Errorf("dtls: decrypt server Finished: %w", err)
			}
			c.readSeq++
			msg, err := unmarshalHandshakeMessage(plaintext)
			if err != nil {
				return err
			}
			if msg.messageType != HandshakeTypeFinished {
				return fmt.Errorf("dtls: expected Finished, got handshake type %d", msg.messageType)
			}
			fin := unmarshalFinished(msg.body)
			expected := verifyData(c.masterSecret, serverFinishedLabel, transcriptHash(c.transcript))
			if !hmac.Equal(fin.verifyData, expected) {
				return ErrVerificationFailed
			}
			return nil
		}
	}
	return fmt.Errorf("dtls: server flight did not contain Finished")
}

// handshakeServer drives flights F2 (HelloVerifyRequest), F4 (ServerHello
// / Certificate / ServerKeyExchange / ServerHelloDone), F6
// (ChangeCipherSpec / Finished) and consumes F1/F3 and F5 from the client.
func (c *Conn) handshakeServer() error {
	signer, err := c.signer()
	if err != nil {
		return err
	}
	cipherSuite, err := cipherSuiteForCertificate(signer)
	if err != nil {
		return err
	}
	c.cipherSuite = cipherSuite

	records, err := c.readFlight()
	if err != nil {
		return err
	}
	ch1, err := expectSingleHandshake(records, HandshakeTypeClientHello, unmarshalClientHello)
	if err != nil {
		return err
	}

	peerAddr := c.conn.RemoteAddr().String()
	cookie := computeCookie(peerAddr, ch1.random)

	hvr := helloVerifyRequest{cookie: cookie}
	f2 := c.encodeUntranscribedHandshake(HandshakeTypeHelloVerifyRequest, hvr.marshal())
	if err := c.writeFlight([][]byte{f2}); err != nil {
		return err
	}

	flight3, err := c.readFlight()
	if err != nil {
		return err
	}
	ch2, err := expectSingleHandshake(flight3, HandshakeTypeClientHello, unmarshalClientHello)
	if err != nil {
		return err
	}
	if !hmac.Equal(ch2.cookie, cookie) {
		return fmt.Errorf("dtls: client cookie mismatch")
	}
	c.clientRandom = ch2.random
	// Transcript starts at the cookie-bearing ClientHello (RFC 6347 §4.2.1).
	for _, r := range flight3 {
		c.appendTranscript(r.fragment)
	}

	groups, err := findAndParseSupportedGroups(ch2.extensions)
	if err != nil {
		return err
	}
	curve, err := selectCurve(groups)
	if err != nil {
		return err
	}
	c.curve = curve

	srtpProfile, err := negotiateSRTPProfile(ch2.extensions)
	if err != nil {
		return err
	}
	c.srtpProfile = srtpProfile

	if _, ok := findExtension(ch2.extensions, ExtensionExtendedMasterSecret); ok {
		c.extendedMasterSecret = true
	}

	serverRandom, err := newHelloRandom()
	if err != nil {
		return err
	}
	c.serverRandom = serverRandom

	shExtensions := []extension{
		{ExtensionUseSRTP, useSRTPExtensionData{profiles: []SRTPProtectionProfile{srtpProfile}}.marshal()},
	}
	if c.extendedMasterSecret {
		shExtensions = append(shExtensions, extension{ExtensionExtendedMasterSecret, nil})
	}
	sh := serverHello{
		random:      serverRandom,
		cipherSuite: cipherSuite,
		extensions:  shExtensions,
	}
	shRecord := c.encodeHandshakeRecord(HandshakeTypeServerHello, sh.marshal())

	certBody := marshalCertificateChain(c.config.Certificate.Certificate)
	certRecord := c.encodeHandshakeRecord(HandshakeTypeCertificate, certBody)

	kp, err := generateECDHKeyPair(curve)
	if err != nil {
		return err
	}
	params := signedECDHParams(c.clientRandom, c.serverRandom, curve, kp.publicKeyBytes())
	sigAlgo, signature, err := signParams(signer, params)
	if err != nil {
		return err
	}
	ske := serverKeyExchange{curve: curve, publicKey: kp.publicKeyBytes(), sigAlgo: sigAlgo, signature: signature}
	skeRecord := c.encodeHandshakeRecord(HandshakeTypeServerKeyExchange, ske.marshal())

	shdRecord := c.encodeHandshakeRecord(HandshakeTypeServerHelloDone, nil)

	if err := c.writeFlight([][]byte{shRecord, certRecord, skeRecord, shdRecord}); err != nil {
		return err
	}

	flight5, err := c.readFlight()
	if err != nil {
		return err
	}
	cke, clientVerify, err := c.parseClientFinishFlight(flight5, kp)
	if err != nil {
		return err
	}
	_ = cke

	expected := verifyData(c.masterSecret, clientFinishedLabel, transcriptHash(c.transcript))
	if !hmac.Equal(clientVerify, expected) {
		return ErrVerificationFailed
	}

	ccsRecord := c.encodeChangeCipherSpec()
	rc, err := newRecordCipher(c.keys.serverWriteKey, c.keys.serverWriteIV)
	if err != nil {
		return err
	}
	c.writeCipher = rc

	serverVerify := verifyData(c.masterSecret, serverFinishedLabel, transcriptHash(c.transcript))
	fin := finished{verifyData: serverVerify}
	finRecord := c.encodeHandshakeRecord(HandshakeTypeFinished, fin.marshal())

	return c.writeFlight([][]byte{ccsRecord, finRecord})
}

// parseClientFinishFlight handles F5 (ClientKeyExchange, ChangeCipherSpec,
// encrypted Finished), deriving the master secret and read cipher as soon
// as ClientKeyExchange is seen so the encrypted Finished that follows can
// be opened.
func (c *Conn) parseClientFinishFlight(records []record, kp *ecdhKeyPair) (clientKeyExchange, []byte, error) {
	var cke clientKeyExchange
	var clientVerify []byte

	for _, r := range records {
		switch r.contentType {
		case ContentTypeHandshake:
			if c.readCipher == nil {
				msg, err := unmarshalHandshakeMessage(r.fragment)
				if err != nil {
					return cke, nil, err
				}
				if msg.messageType != HandshakeTypeClientKeyExchange {
					return cke, nil, fmt.Errorf("dtls: expected ClientKeyExchange, got handshake type %d", msg.messageType)
				}
				cke, err = unmarshalClientKeyExchange(msg.body)
				if err != nil {
					return cke, nil, err
				}
				c.appendTranscript(r.fragment)

				shared, err := kp.sharedSecret(cke.publicKey)
				if err != nil {
					return cke, nil, err
				}
				var sessionHash []byte
				if c.extendedMasterSecret {
					sessionHash = transcriptHash(c.transcript)
				}
				c.masterSecret = computeMasterSecret(shared, c.clientRandom, c.serverRandom, c.extendedMasterSecret, sessionHash)
				c.keys = computeKeyBlock(c.masterSecret, c.clientRandom, c.serverRandom)
				rc, err := newRecordCipher(c.keys.clientWriteKey, c.keys.clientWriteIV)
				if err != nil {
					return cke, nil, err
				}
				c.readCipher = rc
			} else {
				plaintext, err := c.readCipher.open(c.readEpoch, c.readSeq, ContentTypeHandshake, r.version, r.fragment)
				if err != nil {
					return cke, nil, xerrors.Errorf("dtls: decrypt client Finished: %w", err)
				}
				c.readSeq++
				msg, err := unmarshalHandshakeMessage(plaintext)
				if err != nil {
					return cke, nil, err
				}
				if msg.messageType != HandshakeTypeFinished {
					return cke, nil, fmt.Errorf("dtls: expected Finished, got handshake type %d", msg.messageType)
				}
				clientVerify = unmarshalFinished(msg.body).verifyData
			}
		case ContentTypeChangeCipherSpec:
			c.readEpoch = 1
			c.readSeq = 0
		}
	}
	if clientVerify == nil {
		return cke, nil, fmt.Errorf("dtls: client flight did not contain Finished")
	}
	return cke, clientVerify, nil
}

// encodeUntranscribedHandshake builds a plaintext handshake record without
// touching the running transcript, for the two messages RFC 6347 §4.2.1
// excludes from it (the cookie-less ClientHello and HelloVerifyRequest).
func (c *Conn) encodeUntranscribedHandshake(typ HandshakeType, body []byte) []byte {
	msg := newHandshakeMessage(typ, c.nextMessageSeq(), body)
	r := record{
		contentType:    ContentTypeHandshake,
		version:        protocolVersionDTLS12,
		epoch:          0,
		sequenceNumber: c.writeSeq,
		fragment:       msg.marshal(),
	}
	c.writeSeq++
	return r.marshal()
}

func expectSingleHandshake[T any](records []record, want HandshakeType, parse func([]byte) (T, error)) (T, error) {
	var zero T
	for _, r := range records {
		if r.contentType != ContentTypeHandshake {
			continue
		}
		msg, err := unmarshalHandshakeMessage(r.fragment)
		if err != nil {
			return zero, err
		}
		if msg.messageType != want {
			return zero, fmt.Errorf("dtls: expected handshake type %d, got %d", want, msg.messageType)
		}
		return parse(msg.body)
	}
	return zero, fmt.Errorf("dtls: flight did not contain handshake type %d", want)
}

type parsedCertificateMessage struct {
	certs []*x509.Certificate
}

// parseServerFlight reads F4 (ServerHello, Certificate, ServerKeyExchange,
// ServerHelloDone) in order, tolerating an optional CertificateRequest
// the engine never asks for but a permissive server might still send.
func parseServerFlight(records []record) (serverHello, parsedCertificateMessage, serverKeyExchange, error) {
	var sh serverHello
	var cert parsedCertificateMessage
	var ske serverKeyExchange
	var sawDone bool

	for _, r := range records {
		if r.contentType != ContentTypeHandshake {
			continue
		}
		msg, err := unmarshalHandshakeMessage(r.fragment)
		if err != nil {
			return sh, cert, ske, err
		}
		switch msg.messageType {
		case HandshakeTypeServerHello:
			sh, err = unmarshalServerHello(msg.body)
		case HandshakeTypeCertificate:
			cert.certs, err = unmarshalCertificateChain(msg.body)
		case HandshakeTypeServerKeyExchange:
			ske, err = unmarshalServerKeyExchange(msg.body)
		case HandshakeTypeCertificateRequest:
			// Not requested by this engine; accepted and ignored if present.
		case HandshakeTypeServerHelloDone:
			sawDone = true
		default:
			err = fmt.Errorf("dtls: unexpected handshake type %d in server flight", msg.messageType)
		}
		if err != nil {
			return sh, cert, ske, err
		}
	}
	if !sawDone {
		return sh, cert, ske, fmt.Errorf("dtls: server flight missing ServerHelloDone")
	}
	return sh, cert, ske, nil
}

func findAndParseSupportedGroups(exts []extension) ([]NamedCurve, error) {
	data, ok := findExtension(exts, ExtensionSupportedGroups)
	if !ok {
		return nil, fmt.Errorf("dtls: ClientHello missing supported_groups extension")
	}
	return parseSupportedGroups(data)
}

func negotiateSRTPProfile(exts []extension) (SRTPProtectionProfile, error) {
	data, ok := findExtension(exts, ExtensionUseSRTP)
	if !ok {
		return 0, ErrNoCommonSRTPProfile
	}
	client, err := unmarshalUseSRTPExtensionData(data)
	if err != nil {
		return 0, err
	}
	for _, server := range offeredSRTPProfiles {
		for _, want := range client.profiles {
			if want == server {
				return server, nil
			}
		}
	}
	return 0, ErrNoCommonSRTPProfile
}
