package discovery

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// CertificateFingerprint returns the SHA-256 fingerprint of the certificate
// DER, hex encoded. The coordinator publishes this in its TXT records so a
// display that has pinned the certificate can verify it found the right
// endpoint before opening a connection.
func CertificateFingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(hash[:])
}

// VerifyFingerprint reports whether the certificate matches a fingerprint
// taken from a discovered TXT record. Comparison is case-insensitive.
func VerifyFingerprint(cert *x509.Certificate, fingerprint string) bool {
	return strings.EqualFold(CertificateFingerprint(cert), fingerprint)
}
