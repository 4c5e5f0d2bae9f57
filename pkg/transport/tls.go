package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// Material names the four files TLS contexts are built from.
type Material struct {
	KeyStorePath       string
	KeyStorePassword   string
	TrustStorePath     string
	TrustStorePassword string
}

// Paths returns the on-disk files backing the material, for change
// detection by the rotation service.
func (m Material) Paths() []string {
	return []string{m.KeyStorePath, m.TrustStorePath}
}

// TLSConfig holds the decoded parts a TLS context is assembled from.
type TLSConfig struct {
	// Certificate is the endpoint's own key and chain.
	Certificate tls.Certificate

	// TrustPool verifies the peer: client certs on the server side,
	// the broker cert on the client side.
	TrustPool *x509.CertPool

	// ServerName is the expected broker name for client connections.
	ServerName string
}

// Load decodes the material from disk into a TLSConfig.
func Load(m Material) (*TLSConfig, error) {
	ks, err := LoadKeyStore(m.KeyStorePath, m.KeyStorePassword)
	if err != nil {
		return nil, err
	}
	pool, err := LoadTrustStore(m.TrustStorePath, m.TrustStorePassword)
	if err != nil {
		return nil, err
	}
	return &TLSConfig{Certificate: ks.Certificate, TrustPool: pool}, nil
}

// NewServerTLSConfig creates the broker-side TLS context. Client
// certificates are required and verified against the trust pool;
// connections without a trusted client certificate fail the handshake.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}
	if cfg.TrustPool == nil {
		return nil, fmt.Errorf("trust pool is required for client authentication")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,

		ClientAuth: tls.RequireAndVerifyClientCert,

		Certificates: []tls.Certificate{cfg.Certificate},
		ClientCAs:    cfg.TrustPool,
	}, nil
}

// NewClientTLSConfig creates the device-side TLS context for connecting to
// the broker.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("client certificate is required")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{cfg.Certificate},
		RootCAs:      cfg.TrustPool,
		ServerName:   cfg.ServerName,
	}, nil
}
