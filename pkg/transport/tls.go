package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// TLS constants for the KioskNet protocol.
const (
	// DefaultPort is the default KioskNet listen port.
	DefaultPort = 9443
)

// TLS errors.
var (
	// ErrPeerRejectedCertificate indicates the client aborted the TLS
	// handshake because it does not trust the server certificate. Fleet
	// displays ship with a pinned CA set; this error usually means the
	// server certificate was rotated without updating the fleet trust
	// store.
	ErrPeerRejectedCertificate = errors.New("peer rejected server certificate")

	// ErrTLSHandshake indicates a TLS handshake failure other than
	// certificate rejection.
	ErrTLSHandshake = errors.New("TLS handshake failed")
)

// TLSConfig holds configuration for KioskNet TLS connections.
type TLSConfig struct {
	// Certificate is the TLS certificate for this endpoint.
	Certificate tls.Certificate

	// RootCAs is the pool of trusted CA certificates for client
	// connections. Nil means the system pool.
	RootCAs *x509.CertPool

	// ServerName is the expected server name for client connections.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewServerTLSConfig creates a TLS configuration for the KioskNet server.
// TLS 1.2 is the floor: a part of the deployed display fleet cannot
// negotiate TLS 1.3, so unlike a greenfield service we cannot require it.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,

		Certificates: []tls.Certificate{cfg.Certificate},

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}, nil
}

// NewClientTLSConfig creates a TLS configuration for a KioskNet client
// (used by the admin console and by tests).
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,

		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// For testing only
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

// ClassifyTLSError wraps a server-side TLS handshake error with a sentinel
// that distinguishes "the peer does not trust our certificate" from other
// handshake failures, so operators get actionable diagnostics.
func ClassifyTLSError(err error) error {
	if err == nil {
		return nil
	}

	var alert tls.AlertError
	if errors.As(err, &alert) {
		// Alerts the client sends when it rejects the server certificate.
		switch uint8(alert) {
		case 42, 43, 46, 48: // bad_certificate, unsupported_certificate, certificate_unknown, unknown_ca
			return fmt.Errorf("%w: %v (rotate the fleet trust store or reissue the server certificate)",
				ErrPeerRejectedCertificate, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrTLSHandshake, err)
}
