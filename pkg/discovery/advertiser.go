package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters for the hub endpoint.
const (
	ServiceType = "_secure-mqtt._tcp"
	Domain      = "local."
)

// Config describes the advertised endpoint.
type Config struct {
	// InstanceName is the advertised instance, e.g. "homehub".
	InstanceName string

	// ControllerID is published in the TXT record so devices learn their
	// topic namespace along with the address.
	ControllerID string

	// Port is the TLS listener port.
	Port int

	// Interface restricts advertising to one interface when non-empty.
	Interface string
}

// Advertiser publishes the hub service over mDNS.
type Advertiser struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is announced until Start.
func NewAdvertiser(config Config, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{config: config, logger: logger}
}

// Start registers the mDNS service. Restarting replaces the announcement.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		"controller=" + a.config.ControllerID,
		"tls=required",
	}

	server, err := zeroconf.Register(
		a.config.InstanceName,
		ServiceType,
		Domain,
		a.config.Port,
		txt,
		a.interfaces(),
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	a.server = server
	a.logger.Info("hub endpoint advertised",
		"instance", a.config.InstanceName, "port", a.config.Port)
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns the interfaces to advertise on, nil meaning all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("advertise interface not found",
			"interface", a.config.Interface)
		return nil
	}
	return []net.Interface{*iface}
}
