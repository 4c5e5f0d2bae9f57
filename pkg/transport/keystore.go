package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// KeyStore is the decoded content of a PKCS#12 key store: one private key
// with its certificate chain.
type KeyStore struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
}

// LoadKeyStore reads and decodes a PKCS#12 key store file.
func LoadKeyStore(path, password string) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key store %s: %w", path, err)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode key store %s: %w", path, err)
	}

	cert := tls.Certificate{
		PrivateKey:  key,
		Certificate: [][]byte{leaf.Raw},
		Leaf:        leaf,
	}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return &KeyStore{Certificate: cert, Leaf: leaf}, nil
}

// LoadTrustStore reads a PKCS#12 trust store file and returns the pool of
// its trusted certificates.
func LoadTrustStore(path, password string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust store %s: %w", path, err)
	}

	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		// Some stores carry the anchors as a regular chain entry.
		_, leaf, chain, chainErr := pkcs12.DecodeChain(data, password)
		if chainErr != nil {
			return nil, fmt.Errorf("decode trust store %s: %w", path, err)
		}
		certs = append([]*x509.Certificate{leaf}, chain...)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("trust store %s contains no certificates", path)
	}

	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}
