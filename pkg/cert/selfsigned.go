package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// SelfSignedValidity is the validity period for generated certificates.
const SelfSignedValidity = 2 * 365 * 24 * time.Hour

// GenerateSelfSigned creates an ECDSA P-256 self-signed server certificate
// for the given host names and/or IP addresses.
func GenerateSelfSigned(commonName string, hosts []string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// LoadOrGenerate loads a certificate/key pair from the given paths, or
// generates and persists a self-signed pair if neither file exists.
func LoadOrGenerate(certPath, keyPath, commonName string, hosts []string) (tls.Certificate, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)

	switch {
	case certErr == nil && keyErr == nil:
		pair, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to load certificate pair: %w", err)
		}
		return pair, nil

	case errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist):
		pair, err := GenerateSelfSigned(commonName, hosts)
		if err != nil {
			return tls.Certificate{}, err
		}
		if err := WriteCertFile(certPath, pair.Leaf); err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to persist certificate: %w", err)
		}
		key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
		if !ok {
			return tls.Certificate{}, fmt.Errorf("unexpected key type %T", pair.PrivateKey)
		}
		if err := WriteKeyFile(keyPath, key); err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to persist key: %w", err)
		}
		return pair, nil

	default:
		// One of the two exists: refuse to guess.
		return tls.Certificate{}, fmt.Errorf("certificate and key must both exist or both be absent (%s, %s)",
			certPath, keyPath)
	}
}
