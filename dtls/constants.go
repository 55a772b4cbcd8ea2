package dtls

// ContentType identifies the payload of a DTLS record (RFC 6347 §4.1).
type ContentType uint8

const (
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
)

// HandshakeType identifies a handshake message (RFC 6347 §4.3.2 / RFC 5246 §7.4).
type HandshakeType uint8

const (
	HandshakeTypeHelloRequest       HandshakeType = 0
	HandshakeTypeClientHello        HandshakeType = 1
	HandshakeTypeServerHello        HandshakeType = 2
	HandshakeTypeHelloVerifyRequest HandshakeType = 3
	HandshakeTypeCertificate        HandshakeType = 11
	HandshakeTypeServerKeyExchange  HandshakeType = 12
	HandshakeTypeCertificateRequest HandshakeType = 13
	HandshakeTypeServerHelloDone    HandshakeType = 14
	HandshakeTypeCertificateVerify  HandshakeType = 15
	HandshakeTypeClientKeyExchange  HandshakeType = 16
	HandshakeTypeFinished           HandshakeType = 20
)

// ExtensionType identifies a ClientHello/ServerHello extension (RFC 6066 et al).
type ExtensionType uint16

const (
	ExtensionSupportedGroups     ExtensionType = 10
	ExtensionECPointFormats      ExtensionType = 11
	ExtensionSignatureAlgorithms ExtensionType = 13
	ExtensionUseSRTP             ExtensionType = 14
	ExtensionExtendedMasterSecret ExtensionType = 23
	ExtensionRenegotiationInfo   ExtensionType = 65281
)

// CipherSuite is the two-byte IANA TLS cipher suite identifier.
type CipherSuite uint16

const (
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 CipherSuite = 0xc02b
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256   CipherSuite = 0xc02f
)

// offeredCipherSuites is sent in every ClientHello, in preference order.
// Both are required by the engine; which one is selected depends on the
// signature algorithm of the certificate each side presents.
var offeredCipherSuites = []CipherSuite{
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

func (cs CipherSuite) signatureIsECDSA() bool {
	return cs == TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
}

// NamedCurve identifies an elliptic curve for ECDHE key exchange (RFC 8422).
type NamedCurve uint16

const (
	NamedCurveSECP256R1 NamedCurve = 23
	NamedCurveX25519    NamedCurve = 29
)

// offeredCurves is sent in the supported_groups extension, in preference
// order: X25519 first (cheaper, no point validation needed), P-256 as the
// widely-supported fallback.
var offeredCurves = []NamedCurve{NamedCurveX25519, NamedCurveSECP256R1}

// SignatureHashAlgorithm pairs a hash and signature algorithm as sent in
// the signature_algorithms extension and ServerKeyExchange.signatureAndHashAlgorithm
// (RFC 5246 §7.4.1.4.1).
type SignatureHashAlgorithm struct {
	Hash      uint8
	Signature uint8
}

const (
	hashSHA256 uint8 = 4
	sigECDSA   uint8 = 3
	sigRSA     uint8 = 1
)

var offeredSignatureAlgorithms = []SignatureHashAlgorithm{
	{hashSHA256, sigECDSA},
	{hashSHA256, sigRSA},
}

// SRTPProtectionProfile identifies an SRTP cipher for the use_srtp
// extension (RFC 5764 §4.1.2).
type SRTPProtectionProfile uint16

const (
	SRTP_AES128_CM_HMAC_SHA1_80 SRTPProtectionProfile = 0x0001
	SRTP_AES128_CM_HMAC_SHA1_32 SRTPProtectionProfile = 0x0002
)

// offeredSRTPProfiles is sent in every ClientHello; server preference wins
// among the intersection (RFC 5764 §4.1.2).
var offeredSRTPProfiles = []SRTPProtectionProfile{
	SRTP_AES128_CM_HMAC_SHA1_80,
	SRTP_AES128_CM_HMAC_SHA1_32,
}

// protocolVersion is DTLS 1.2 (RFC 6347 §4.1): the wire value is the
// one's complement of the "equivalent TLS version" 1.2 (3,3) -> (254,253).
var protocolVersionDTLS12 = [2]uint8{0xfe, 0xfd}

// recordHeaderLen is the fixed 13-byte DTLS record header: type(1) +
// version(2) + epoch(2) + sequence_number(6) + length(2).
const recordHeaderLen = 13

// handshakeHeaderLen is the fixed 12-byte DTLS handshake header:
// msg_type(1) + length(3) + message_seq(2) + fragment_offset(3) +
// fragment_length(3).
const handshakeHeaderLen = 12
