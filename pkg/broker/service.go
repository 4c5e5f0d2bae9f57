package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/auth"
	"github.com/homehub-iot/hubcore/pkg/ingest"
	"github.com/homehub-iot/hubcore/pkg/registry"
	"github.com/homehub-iot/hubcore/pkg/transport"
)

// DefaultPort is the broker's TLS listener port. There is no plaintext
// listener.
const DefaultPort = 8884

// Config carries everything the service needs to construct a broker.
type Config struct {
	// Port is the TLS listener port. Zero uses DefaultPort.
	Port int

	// ControllerID scopes the topic namespace.
	ControllerID string

	// Material is the PKCS#12 key and trust store backing the listener.
	Material transport.Material

	// PoolSize bounds the publish worker pool. Zero uses the default.
	PoolSize int

	// DriftThreshold bounds accepted health timestamp skew.
	DriftThreshold time.Duration
}

// Service owns the embedded MQTT server. Start and Stop are idempotent and
// symmetric; Restart tears the server down and reconstructs it so fresh TLS
// material is read from disk.
type Service struct {
	cfg      Config
	store    *registry.Store
	recorder alertlog.Recorder
	logger   *slog.Logger

	mu          sync.Mutex
	server      *mqtt.Server
	interceptor *Interceptor
	running     bool
}

// NewService creates the broker service. Nothing listens until Start.
func NewService(cfg Config, store *registry.Store, recorder alertlog.Recorder, logger *slog.Logger) *Service {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if recorder == nil {
		recorder = alertlog.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Start constructs the server, its security hook and the TLS listener, and
// begins serving. Calling Start on a running service is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	tlsMaterial, err := transport.Load(s.cfg.Material)
	if err != nil {
		return fmt.Errorf("load TLS material: %w", err)
	}
	tlsConfig, err := transport.NewServerTLSConfig(tlsMaterial)
	if err != nil {
		return fmt.Errorf("build server TLS config: %w", err)
	}

	authn := auth.NewAuthenticator(s.store, s.recorder, s.logger)
	policy := auth.NewPolicy(s.cfg.ControllerID, authn, s.recorder, s.logger)
	ingestor := ingest.NewIngestor(s.store, s.logger)
	interceptor := NewInterceptor(authn, ingestor, s.recorder, s.logger, s.cfg.PoolSize, s.cfg.DriftThreshold)

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(NewSecurityHook(policy, interceptor, s.logger), nil); err != nil {
		interceptor.Shutdown()
		return fmt.Errorf("add security hook: %w", err)
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:        fmt.Sprintf("mqtts-%d", s.cfg.Port),
		Address:   fmt.Sprintf(":%d", s.cfg.Port),
		TLSConfig: tlsConfig,
	})
	if err := server.AddListener(listener); err != nil {
		interceptor.Shutdown()
		return fmt.Errorf("add TLS listener: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			s.logger.Error("broker serve error", "err", err)
		}
	}()

	s.server = server
	s.interceptor = interceptor
	s.running = true
	s.logger.Info("broker started",
		"port", s.cfg.Port, "controller_id", s.cfg.ControllerID)
	return nil
}

// Stop closes the server and drains the publish workers. Calling Stop on a
// stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.server
	interceptor := s.interceptor
	s.server = nil
	s.interceptor = nil
	s.running = false
	s.mu.Unlock()

	// Close outside the lock; hook callbacks fire during shutdown.
	err := server.Close()
	interceptor.Shutdown()
	if err != nil {
		return fmt.Errorf("close broker: %w", err)
	}
	s.logger.Info("broker stopped")
	return nil
}

// Restart stops and starts the service so TLS material is re-read.
func (s *Service) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start()
}

// Running reports whether the broker is serving.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Publish sends a message from the hub itself via the inline client.
func (s *Service) Publish(topic string, payload []byte, retain bool, qos byte) error {
	s.mu.Lock()
	server := s.server
	running := s.running
	s.mu.Unlock()

	if !running {
		return errors.New("broker is not running")
	}
	return server.Publish(topic, payload, retain, qos)
}
