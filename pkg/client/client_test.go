package client

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/transport"
)

func testMaterial(t *testing.T) transport.Material {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-device"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	ks, err := pkcs12.Modern.Encode(key, cert, nil, "pw")
	require.NoError(t, err)
	ts, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{cert}, "pw")
	require.NoError(t, err)

	m := transport.Material{
		KeyStorePath:       filepath.Join(dir, "device.p12"),
		KeyStorePassword:   "pw",
		TrustStorePath:     filepath.Join(dir, "trust.p12"),
		TrustStorePassword: "pw",
	}
	require.NoError(t, os.WriteFile(m.KeyStorePath, ks, 0600))
	require.NoError(t, os.WriteFile(m.TrustStorePath, ts, 0600))
	return m
}

func TestNewDerivesClientID(t *testing.T) {
	c, err := New(Options{
		BrokerURL:    "ssl://localhost:8884",
		ControllerID: "controller-01",
		Serial:       "IOT-2025-0042",
		MAC:          "AA:BB:CC:DD:EE:FF",
		DeviceType:   model.TypeTempSensor,
		Material:     testMaterial(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "IOT0042AABBCC", c.ClientID())
}

func TestNewRejectsBadIdentity(t *testing.T) {
	_, err := New(Options{Serial: "", MAC: "AA:BB:CC:DD:EE:FF", DeviceType: model.TypeTempSensor})
	assert.Error(t, err)

	_, err = New(Options{Serial: "IOT-2025-0042", MAC: "nope", DeviceType: model.TypeTempSensor})
	assert.Error(t, err)

	_, err = New(Options{Serial: "IOT-2025-0042", MAC: "AA:BB:CC:DD:EE:FF", DeviceType: "TOASTER"})
	assert.Error(t, err)
}

func TestNewRejectsMissingMaterial(t *testing.T) {
	_, err := New(Options{
		Serial:     "IOT-2025-0042",
		MAC:        "AA:BB:CC:DD:EE:FF",
		DeviceType: model.TypeTempSensor,
		Material: transport.Material{
			KeyStorePath:   "/nonexistent/device.p12",
			TrustStorePath: "/nonexistent/trust.p12",
		},
	})
	assert.Error(t, err)
}

func TestTopicLayout(t *testing.T) {
	c, err := New(Options{
		BrokerURL:    "ssl://localhost:8884",
		ControllerID: "controller-01",
		Serial:       "IOT-2025-0042",
		MAC:          "AA:BB:CC:DD:EE:FF",
		DeviceType:   model.TypeSmartPlug,
		Material:     testMaterial(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "home/controller-01/devices/IOT-2025-0042/health", c.topic("health"))
	assert.Equal(t, "home/controller-01/devices/IOT-2025-0042/offline", c.topic("offline"))
}
