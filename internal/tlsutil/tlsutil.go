// Package tlsutil loads the server's PKCS#12 identity and implements the
// public-key pinning both ends agree on: the SHA-256 digest of the leaf
// certificate's SubjectPublicKeyInfo, in hex.
package tlsutil

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// ErrPinMismatch is returned when the presented certificate's public key
// does not match the pinned fingerprint.
var ErrPinMismatch = errors.New("server public key does not match pin")

// LoadIdentity reads a password-less PKCS#12 bundle and returns the TLS
// identity plus the leaf certificate.
func LoadIdentity(path string) (tls.Certificate, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("read identity file: %w", err)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(data, "")
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("decode identity file: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, leaf, nil
}

// Fingerprint returns the pin for a certificate: the lowercase hex SHA-256
// of its SubjectPublicKeyInfo.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

// PinVerifier returns a VerifyPeerCertificate callback that accepts exactly
// the leaf whose public key matches pin (case-insensitively). It replaces
// chain and hostname verification entirely, so the tls.Config using it must
// set InsecureSkipVerify; trust comes from the out-of-band pin alone.
func PinVerifier(pin string) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	want := strings.TrimSpace(pin)
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse server certificate: %w", err)
		}
		if !strings.EqualFold(Fingerprint(cert), want) {
			return ErrPinMismatch
		}
		return nil
	}
}
