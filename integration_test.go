package hubcore_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/homehub-iot/hubcore/pkg/admin"
	"github.com/homehub-iot/hubcore/pkg/broker"
	"github.com/homehub-iot/hubcore/pkg/client"
	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
	"github.com/homehub-iot/hubcore/pkg/transport"
)

// testHub is an in-process hub with freshly generated PKI: one CA, a server
// certificate for localhost, and as many client certificates as tests ask
// for.
type testHub struct {
	t       *testing.T
	dir     string
	caKey   *ecdsa.PrivateKey
	caCert  *x509.Certificate
	store   *registry.Store
	service *broker.Service
	port    int
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	h := &testHub{t: t, dir: t.TempDir()}
	h.caKey, h.caCert = h.generateCA()

	store, err := registry.Open(filepath.Join(h.dir, "hub.db"), testLogger())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h.store = store

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	h.port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	h.service = broker.NewService(broker.Config{
		Port:         h.port,
		ControllerID: "controller-01",
		Material:     h.issueMaterial("server", "test-hub", []string{"localhost"}),
	}, store, nil, testLogger())
	if err := h.service.Start(); err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(func() { h.service.Stop() })

	return h
}

func (h *testHub) brokerURL() string {
	return fmt.Sprintf("ssl://localhost:%d", h.port)
}

func (h *testHub) generateCA() (*ecdsa.PrivateKey, *x509.Certificate) {
	h.t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		h.t.Fatalf("generate CA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		h.t.Fatalf("create CA cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		h.t.Fatalf("parse CA cert: %v", err)
	}
	return key, cert
}

// issueMaterial signs a fresh leaf certificate with the hub CA and writes it
// as a PKCS#12 key store, next to a trust store holding the CA.
func (h *testHub) issueMaterial(name, cn string, dnsNames []string) transport.Material {
	h.t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		h.t.Fatalf("generate %s key: %v", name, err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     dnsNames,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, h.caCert, &key.PublicKey, h.caKey)
	if err != nil {
		h.t.Fatalf("create %s cert: %v", name, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		h.t.Fatalf("parse %s cert: %v", name, err)
	}

	ks, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{h.caCert}, "pw")
	if err != nil {
		h.t.Fatalf("encode %s key store: %v", name, err)
	}
	ts, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{h.caCert}, "pw")
	if err != nil {
		h.t.Fatalf("encode %s trust store: %v", name, err)
	}

	m := transport.Material{
		KeyStorePath:       filepath.Join(h.dir, name+".p12"),
		KeyStorePassword:   "pw",
		TrustStorePath:     filepath.Join(h.dir, name+"-trust.p12"),
		TrustStorePassword: "pw",
	}
	if err := os.WriteFile(m.KeyStorePath, ks, 0600); err != nil {
		h.t.Fatalf("write %s key store: %v", name, err)
	}
	if err := os.WriteFile(m.TrustStorePath, ts, 0600); err != nil {
		h.t.Fatalf("write %s trust store: %v", name, err)
	}
	return m
}

func (h *testHub) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// TestE2E_DeviceRegistration covers the happy path: a device connects over
// mutual TLS, publishes its registration and ends up as a PENDING registry
// row with an active connection and a registration alert.
func TestE2E_DeviceRegistration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := newTestHub(t)

	sc, err := client.New(client.Options{
		BrokerURL:    h.brokerURL(),
		ControllerID: "controller-01",
		Serial:       "IOT-2025-0001",
		MAC:          "AA:BB:CC:DD:EE:01",
		DeviceType:   model.TypeTempSensor,
		Material:     h.issueMaterial("device1", "IOT-2025-0001", nil),
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("build device client: %v", err)
	}
	if err := sc.Connect(); err != nil {
		t.Fatalf("connect device: %v", err)
	}
	defer sc.Close()

	var device *model.Device
	h.waitFor("registration row", func() bool {
		device, err = h.store.FindBySerialHash(identity.Hash("IOT-2025-0001"))
		return err == nil
	})
	if device.Status() != model.StatusPending {
		t.Errorf("status = %v, want PENDING", device.Status())
	}

	h.waitFor("active connection row", func() bool {
		_, err := h.store.FindActiveByDeviceID(device.ID)
		return err == nil
	})

	alerts, err := h.store.FindAlertsByType(model.AlertDeviceRegistration)
	if err != nil {
		t.Fatalf("query alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("DEVICE_REGISTRATION alerts = %d, want 1", len(alerts))
	}
}

// TestE2E_TelemetryPipeline checks that telemetry from a PENDING device is
// dropped at the authorization layer and flows through to a durable row once
// the device is approved.
func TestE2E_TelemetryPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := newTestHub(t)

	sc, err := client.New(client.Options{
		BrokerURL:    h.brokerURL(),
		ControllerID: "controller-01",
		Serial:       "IOT-2025-0002",
		MAC:          "AA:BB:CC:DD:EE:02",
		DeviceType:   model.TypeEnergySensor,
		Material:     h.issueMaterial("device2", "IOT-2025-0002", nil),
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("build device client: %v", err)
	}
	if err := sc.Connect(); err != nil {
		t.Fatalf("connect device: %v", err)
	}
	defer sc.Close()

	var device *model.Device
	h.waitFor("registration row", func() bool {
		device, err = h.store.FindBySerialHash(identity.Hash("IOT-2025-0002"))
		return err == nil
	})

	// Still PENDING: the publish is denied, nothing must reach the store.
	if err := sc.PublishTelemetry("power_w", 42.5); err != nil {
		t.Fatalf("publish telemetry: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if n, err := h.store.CountTelemetryForDevice(device.ID); err != nil || n != 0 {
		t.Fatalf("telemetry rows while PENDING = %d (err %v), want 0", n, err)
	}

	if !admin.NewService(h.store, testLogger()).Approve(device.ID, "it-admin") {
		t.Fatal("approve device failed")
	}

	if err := sc.PublishTelemetry("power_w", 43.1); err != nil {
		t.Fatalf("publish telemetry: %v", err)
	}
	h.waitFor("telemetry row", func() bool {
		n, err := h.store.CountTelemetryForDevice(device.ID)
		return err == nil && n == 1
	})
}

// TestE2E_CommandRoundTrip drives a command from the controller session to
// an approved device's command subscription.
func TestE2E_CommandRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := newTestHub(t)

	sc, err := client.New(client.Options{
		BrokerURL:    h.brokerURL(),
		ControllerID: "controller-01",
		Serial:       "IOT-2025-0003",
		MAC:          "AA:BB:CC:DD:EE:03",
		DeviceType:   model.TypeSmartPlug,
		Material:     h.issueMaterial("device3", "IOT-2025-0003", nil),
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("build device client: %v", err)
	}
	if err := sc.Connect(); err != nil {
		t.Fatalf("connect device: %v", err)
	}
	defer sc.Close()

	var device *model.Device
	h.waitFor("registration row", func() bool {
		device, err = h.store.FindBySerialHash(identity.Hash("IOT-2025-0003"))
		return err == nil
	})
	if !admin.NewService(h.store, testLogger()).Approve(device.ID, "it-admin") {
		t.Fatal("approve device failed")
	}

	received := make(chan []byte, 1)
	if err := sc.SubscribeCommands(func(payload []byte) {
		select {
		case received <- payload:
		default:
		}
	}); err != nil {
		t.Fatalf("subscribe commands: %v", err)
	}

	controller, err := client.NewCommandPublisher(h.brokerURL(), "controller-01",
		h.issueMaterial("controller", "controller-cmd", nil), testLogger())
	if err != nil {
		t.Fatalf("build controller: %v", err)
	}
	if err := controller.Connect(); err != nil {
		t.Fatalf("connect controller: %v", err)
	}
	defer controller.Close()

	if err := controller.Send("IOT-2025-0003", client.Command{Action: "on"}); err != nil {
		t.Fatalf("send command: %v", err)
	}

	select {
	case payload := <-received:
		if len(payload) == 0 {
			t.Error("received empty command payload")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("command never reached the device")
	}
}
