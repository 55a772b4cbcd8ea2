// Portions of this file are:

// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// HashAlgorithm identifies the digest used to compute a certificate
// fingerprint for the SDP a=fingerprint attribute (RFC 8122).
type HashAlgorithm string

const (
	HashAlgorithmSHA256 HashAlgorithm = "sha-256"
)

// GenerateSelfSigned creates a self-signed ECDSA P-256 certificate suitable
// for a DTLS handshake endpoint. WebRTC identifies peers by certificate
// fingerprint rather than CA trust, so self-signed is the norm; the
// certificate's only job is to be consistently presented across the
// lifetime of the PeerConnection.
func GenerateSelfSigned() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("dtls: generate key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("dtls: generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serialNumber,
		Subject:            pkix.Name{CommonName: "WebRTC"},
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(30 * 24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("dtls: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// Fingerprint renders the a=fingerprint attribute value (everything after
// "a=fingerprint:") for the leaf certificate, e.g.
// "sha-256 AB:CD:...:EF".
func Fingerprint(cert tls.Certificate, algo HashAlgorithm) (string, error) {
	if len(cert.Certificate) == 0 {
		return "", fmt.Errorf("dtls: certificate has no leaf")
	}
	switch algo {
	case HashAlgorithmSHA256:
		sum := sha256.Sum256(cert.Certificate[0])
		return algo.formatted() + " " + hexColons(sum[:]), nil
	default:
		return "", fmt.Errorf("dtls: unsupported fingerprint algorithm %q", algo)
	}
}

func (a HashAlgorithm) formatted() string { return string(a) }

func hexColons(b []byte) string {
	const hextable = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3-1)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hextable[v>>4], hextable[v&0x0f])
	}
	return string(out)
}
