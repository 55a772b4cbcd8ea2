package dtls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// signParams signs digest with priv, producing the ServerKeyExchange
// signature over the ECDHE params (RFC 4492 §5.4). Only SHA-256 digests
// are produced by this engine (the only hash it offers), so the
// signature scheme is determined entirely by the private key's type.
func signParams(priv crypto.Signer, params []byte) (SignatureHashAlgorithm, []byte, error) {
	digest := sha256.Sum256(params)

	switch key := priv.(type) {
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return SignatureHashAlgorithm{}, nil, fmt.Errorf("dtls: sign ECDSA: %w", err)
		}
		return SignatureHashAlgorithm{hashSHA256, sigECDSA}, sig, nil
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return SignatureHashAlgorithm{}, nil, fmt.Errorf("dtls: sign RSA: %w", err)
		}
		return SignatureHashAlgorithm{hashSHA256, sigRSA}, sig, nil
	default:
		return SignatureHashAlgorithm{}, nil, fmt.Errorf("dtls: unsupported private key type %T", priv)
	}
}

// verifyParams checks the server's ServerKeyExchange signature against
// the leaf certificate's public key.
func verifyParams(cert *x509.Certificate, algo SignatureHashAlgorithm, params, signature []byte) error {
	if algo.Hash != hashSHA256 {
		return fmt.Errorf("dtls: unsupported signature hash algorithm %d", algo.Hash)
	}
	digest := sha256.Sum256(params)

	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if algo.Signature != sigECDSA {
			return fmt.Errorf("dtls: signature algorithm %d does not match ECDSA certificate", algo.Signature)
		}
		if !ecdsa.VerifyASN1(pub, digest[:], signature) {
			return fmt.Errorf("dtls: ECDSA signature verification failed")
		}
		return nil
	case *rsa.PublicKey:
		if algo.Signature != sigRSA {
			return fmt.Errorf("dtls: signature algorithm %d does not match RSA certificate", algo.Signature)
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
			return fmt.Errorf("dtls: RSA signature verification failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("dtls: unsupported certificate public key type %T", cert.PublicKey)
	}
}

// cipherSuiteForCertificate returns the offered suite matching priv's key
// type, since this engine's offered suites differ only in signature
// algorithm (both use ECDHE key exchange and AES-128-GCM record
// protection).
func cipherSuiteForCertificate(priv crypto.Signer) (CipherSuite, error) {
	switch priv.(type) {
	case *ecdsa.PrivateKey:
		return TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, nil
	case *rsa.PrivateKey:
		return TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, nil
	default:
		return 0, fmt.Errorf("dtls: unsupported private key type %T", priv)
	}
}
