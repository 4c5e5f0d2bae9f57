// Command hub-device is a reference device implementation. It connects to
// the hub over mutual TLS, registers itself, keeps a health loop running
// and publishes simulated telemetry until interrupted.
//
// Usage:
//
//	hub-device [flags]
//
// Flags:
//
//	-broker string     Broker URL (default "ssl://localhost:8884")
//	-controller string Controller id (default "controller-01")
//	-serial string     Device serial number
//	-mac string        Device MAC address
//	-type string       Device type: TEMP_SENSOR, SMART_PLUG, ENERGY_SENSOR, SMART_SWITCH
//	-keystore string   PKCS#12 key store path
//	-truststore string PKCS#12 trust store path
//	-interval duration Telemetry interval (default 30s)
//	-version           Print the build version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/homehub-iot/hubcore/pkg/client"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/transport"
	"github.com/homehub-iot/hubcore/pkg/version"
)

func main() {
	var (
		brokerURL    = flag.String("broker", "ssl://localhost:8884", "Broker URL")
		controllerID = flag.String("controller", "controller-01", "Controller id")
		serial       = flag.String("serial", "IOT-2025-0001", "Device serial number")
		mac          = flag.String("mac", "AA:BB:CC:DD:EE:01", "Device MAC address")
		deviceType   = flag.String("type", "TEMP_SENSOR", "Device type")
		keyStore     = flag.String("keystore", "device.p12", "PKCS#12 key store path")
		keyStorePw   = flag.String("keystore-password", "", "Key store password")
		trustStore   = flag.String("truststore", "truststore.p12", "PKCS#12 trust store path")
		trustStorePw = flag.String("truststore-password", "", "Trust store password")
		interval     = flag.Duration("interval", 30*time.Second, "Telemetry interval")
		showVersion  = flag.Bool("version", false, "Print the build version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sc, err := client.New(client.Options{
		BrokerURL:    *brokerURL,
		ControllerID: *controllerID,
		Serial:       *serial,
		MAC:          *mac,
		DeviceType:   model.DeviceType(*deviceType),
		Material: transport.Material{
			KeyStorePath:       *keyStore,
			KeyStorePassword:   *keyStorePw,
			TrustStorePath:     *trustStore,
			TrustStorePassword: *trustStorePw,
		},
		FirmwareVersion: "1.0.0",
		HardwareVersion: "rev-a",
		Logger:          logger,
	})
	if err != nil {
		logger.Error("build device client", "err", err)
		os.Exit(1)
	}

	agent := client.NewDeviceAgent(sc, *interval, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		agent.Stop()
	}()

	logger.Info("device starting",
		"client_id", sc.ClientID(), "broker", *brokerURL)
	if err := agent.Run(); err != nil {
		logger.Error("device run failed", "err", err)
		os.Exit(1)
	}
}
