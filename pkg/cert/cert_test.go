package cert

import (
	"crypto/ecdsa"
	"crypto/x509"
	"path/filepath"
	"testing"
)

func TestGenerateSelfSigned(t *testing.T) {
	pair, err := GenerateSelfSigned("kiosknet-test", []string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	if pair.Leaf == nil {
		t.Fatal("Leaf not populated")
	}
	if pair.Leaf.Subject.CommonName != "kiosknet-test" {
		t.Errorf("CommonName = %q, want kiosknet-test", pair.Leaf.Subject.CommonName)
	}
	if len(pair.Leaf.DNSNames) != 1 || pair.Leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v, want [localhost]", pair.Leaf.DNSNames)
	}
	if len(pair.Leaf.IPAddresses) != 1 {
		t.Errorf("IPAddresses = %v, want one entry", pair.Leaf.IPAddresses)
	}
	if err := pair.Leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname failed: %v", err)
	}
	if _, ok := pair.Leaf.PublicKey.(*ecdsa.PublicKey); !ok {
		t.Errorf("public key type = %T, want *ecdsa.PublicKey", pair.Leaf.PublicKey)
	}
}

func TestPEMRoundTrip(t *testing.T) {
	pair, err := GenerateSelfSigned("pem-test", []string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	certPEM := EncodeCertPEM(pair.Leaf)
	decoded, err := DecodeCertPEM(certPEM)
	if err != nil {
		t.Fatalf("DecodeCertPEM failed: %v", err)
	}
	if !decoded.Equal(pair.Leaf) {
		t.Error("decoded certificate differs from original")
	}

	key := pair.PrivateKey.(*ecdsa.PrivateKey)
	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		t.Fatalf("EncodeKeyPEM failed: %v", err)
	}
	decodedKey, err := DecodeKeyPEM(keyPEM)
	if err != nil {
		t.Fatalf("DecodeKeyPEM failed: %v", err)
	}
	if !decodedKey.Equal(key) {
		t.Error("decoded key differs from original")
	}
}

func TestDecodeCertPEMInvalid(t *testing.T) {
	if _, err := DecodeCertPEM([]byte("not pem")); err != ErrInvalidPEM {
		t.Errorf("expected ErrInvalidPEM, got %v", err)
	}
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	// First call generates and persists.
	first, err := LoadOrGenerate(certPath, keyPath, "lg-test", []string{"localhost"})
	if err != nil {
		t.Fatalf("LoadOrGenerate (generate) failed: %v", err)
	}

	// Second call loads the same pair.
	second, err := LoadOrGenerate(certPath, keyPath, "lg-test", []string{"localhost"})
	if err != nil {
		t.Fatalf("LoadOrGenerate (load) failed: %v", err)
	}

	firstLeaf := first.Leaf
	secondLeaf, err := x509.ParseCertificate(second.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse loaded certificate: %v", err)
	}
	if !firstLeaf.Equal(secondLeaf) {
		t.Error("loaded certificate differs from generated one")
	}
}

func TestLoadOrGenerateMismatchedFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	pair, err := GenerateSelfSigned("partial", []string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}
	if err := WriteCertFile(certPath, pair.Leaf); err != nil {
		t.Fatalf("WriteCertFile failed: %v", err)
	}

	// Certificate present without its key must refuse.
	if _, err := LoadOrGenerate(certPath, keyPath, "partial", []string{"localhost"}); err == nil {
		t.Error("expected error for certificate without key")
	}
}
