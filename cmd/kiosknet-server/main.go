// Command kiosknet-server runs the KioskNet fleet coordination server.
//
// The server accepts TLS WebSocket connections from unattended display
// devices and companion mobile apps, tracks the fleet roster, and relays
// commands, layout assignments and screenshots between apps and displays.
//
// Usage:
//
//	kiosknet-server [flags]
//
// Flags:
//
//	-config string           YAML configuration file path
//	-host string             Listen address (default: all interfaces)
//	-port int                Listen port (default 9443)
//	-cert string             TLS certificate path (generated if absent)
//	-key string              TLS key path (generated if absent)
//	-token-secret string     Secret seeding app bearer tokens
//	-enrollment-token string Token devices must present to register
//	-auto-authorize          Authorize every connecting app (development)
//	-name string             Coordinator name for mDNS advertising
//	-mdns                    Advertise the endpoint over mDNS (default true)
//	-log-level string        Log level: debug, info, warn, error
//	-protocol-log string     CBOR protocol event log path
//
// Examples:
//
//	# Development server: self-signed cert, every app authorized
//	kiosknet-server -auto-authorize -log-level debug
//
//	# Production-style setup from a config file
//	kiosknet-server -config /etc/kiosknet/server.yaml
package main

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/cert"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/discovery"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/service"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/transport"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

var flags struct {
	config          string
	host            string
	port            int
	certPath        string
	keyPath         string
	tokenSecret     string
	enrollmentToken string
	autoAuthorize   bool
	name            string
	mdns            bool
	logLevel        string
	protocolLog     string
}

func init() {
	flag.StringVar(&flags.config, "config", "", "YAML configuration file path")
	flag.StringVar(&flags.host, "host", "", "Listen address (default: all interfaces)")
	flag.IntVar(&flags.port, "port", 0, "Listen port (default 9443)")
	flag.StringVar(&flags.certPath, "cert", "", "TLS certificate path (generated if absent)")
	flag.StringVar(&flags.keyPath, "key", "", "TLS key path (generated if absent)")
	flag.StringVar(&flags.tokenSecret, "token-secret", "", "Secret seeding app bearer tokens")
	flag.StringVar(&flags.enrollmentToken, "enrollment-token", "", "Token devices must present to register")
	flag.BoolVar(&flags.autoAuthorize, "auto-authorize", false, "Authorize every connecting app (development)")
	flag.StringVar(&flags.name, "name", "", "Coordinator name for mDNS advertising")
	flag.BoolVar(&flags.mdns, "mdns", true, "Advertise the endpoint over mDNS")
	flag.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.protocolLog, "protocol-log", "", "CBOR protocol event log path")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(flags.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg)

	logger := setupLogging(cfg.Log.Level)

	logger.Info("KioskNet fleet coordination server",
		"version", version.Current,
		"port", cfg.Listen.Port)

	pair, err := cert.LoadOrGenerate(cfg.TLS.Cert, cfg.TLS.Key, "kiosknet-server", certHosts(cfg.Listen.Host))
	if err != nil {
		logger.Error("failed to load server certificate", "err", err)
		os.Exit(1)
	}
	leaf, err := certLeaf(pair.Leaf, pair.Certificate)
	if err != nil {
		logger.Error("failed to parse server certificate", "err", err)
		os.Exit(1)
	}

	secret := []byte(cfg.Auth.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Error("failed to generate token secret", "err", err)
			os.Exit(1)
		}
		logger.Warn("no token secret configured; app tokens will not survive a restart")
	}

	svcConfig := service.DefaultConfig()
	svcConfig.Host = cfg.Listen.Host
	svcConfig.Port = cfg.Listen.Port
	svcConfig.FallbackPorts = cfg.Listen.FallbackPorts
	svcConfig.TLSConfig = &transport.TLSConfig{Certificate: pair}
	svcConfig.TokenSecret = secret
	svcConfig.EnrollmentToken = cfg.Auth.EnrollmentToken
	svcConfig.AutoAuthorizeApps = cfg.Auth.AutoAuthorizeApps
	svcConfig.Layouts = layoutStore(cfg)
	svcConfig.Logger = logger
	if d := cfg.provisionalTimeout(); d > 0 {
		svcConfig.ProvisionalTimeout = d
	}
	if d := cfg.shutdownTimeout(); d > 0 {
		svcConfig.ShutdownTimeout = d
	}
	if d := cfg.pingInterval(); d > 0 {
		svcConfig.KeepAlive.PingInterval = d
	}

	var protocolLog *log.FileLogger
	if cfg.Log.ProtocolLog != "" {
		protocolLog, err = log.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			logger.Error("failed to open protocol log", "path", cfg.Log.ProtocolLog, "err", err)
			os.Exit(1)
		}
		svcConfig.ProtocolLogger = protocolLog
		logger.Info("capturing protocol events", "path", cfg.Log.ProtocolLog)
	}

	svc, err := service.New(svcConfig)
	if err != nil {
		logger.Error("failed to create service", "err", err)
		os.Exit(1)
	}

	authorized := make(map[string]bool, len(cfg.Auth.AuthorizedApps))
	for _, appID := range cfg.Auth.AuthorizedApps {
		authorized[appID] = true
	}
	svc.OnEvent(func(event service.Event) {
		handleEvent(logger, svc, authorized, event)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "err", err)
		os.Exit(1)
	}
	logger.Info("service started",
		"state", svc.State().String(),
		"addr", svc.Server().Addr().String())

	advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{})
	if cfg.Discovery.Enabled {
		info := &discovery.Info{
			Name:        cfg.Discovery.Name,
			Port:        listenPort(svc),
			Version:     version.Current,
			Fingerprint: discovery.CertificateFingerprint(leaf),
		}
		if err := advertiser.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertising unavailable", "err", err)
		} else {
			logger.Info("advertising endpoint over mDNS",
				"service", discovery.ServiceType, "port", info.Port)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	advertiser.Stop()
	if err := svc.Stop(); err != nil {
		logger.Error("error stopping service", "err", err)
	}
	if protocolLog != nil {
		_ = protocolLog.Close()
	}

	logger.Info("goodbye")
}

// applyFlagOverrides overrides file configuration with explicitly set flags.
func applyFlagOverrides(cfg *FileConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Listen.Host = flags.host
		case "port":
			cfg.Listen.Port = flags.port
		case "cert":
			cfg.TLS.Cert = flags.certPath
		case "key":
			cfg.TLS.Key = flags.keyPath
		case "token-secret":
			cfg.Auth.TokenSecret = flags.tokenSecret
		case "enrollment-token":
			cfg.Auth.EnrollmentToken = flags.enrollmentToken
		case "auto-authorize":
			cfg.Auth.AutoAuthorizeApps = flags.autoAuthorize
		case "name":
			cfg.Discovery.Name = flags.name
		case "mdns":
			cfg.Discovery.Enabled = flags.mdns
		case "log-level":
			cfg.Log.Level = flags.logLevel
		case "protocol-log":
			cfg.Log.ProtocolLog = flags.protocolLog
		}
	})
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// certHosts returns the host names the generated certificate covers.
func certHosts(listenHost string) []string {
	hosts := []string{"127.0.0.1", "localhost"}
	if listenHost != "" && listenHost != "0.0.0.0" {
		hosts = append(hosts, listenHost)
	}
	if name, err := os.Hostname(); err == nil {
		hosts = append(hosts, name)
	}
	return hosts
}

// certLeaf returns the parsed leaf certificate. tls.LoadX509KeyPair does
// not populate Leaf, so parse it from the raw chain when needed.
func certLeaf(leaf *x509.Certificate, chain [][]byte) (*x509.Certificate, error) {
	if leaf != nil {
		return leaf, nil
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate chain is empty")
	}
	return x509.ParseCertificate(chain[0])
}

func layoutStore(cfg FileConfig) *service.MemoryLayoutStore {
	layouts := make([]wire.LayoutInfo, 0, len(cfg.Layouts))
	for _, l := range cfg.Layouts {
		layouts = append(layouts, wire.LayoutInfo{ID: l.ID, Name: l.Name})
	}
	return service.NewMemoryLayoutStore(layouts...)
}

// listenPort extracts the actual bound port, which may be a fallback port.
func listenPort(svc *service.Service) int {
	if addr, ok := svc.Server().Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return transport.DefaultPort
}

func handleEvent(logger *slog.Logger, svc *service.Service, authorized map[string]bool, event service.Event) {
	switch event.Type {
	case service.EventDeviceRegistered:
		logger.Info("device registered", "deviceId", event.DeviceID, "conn", event.ConnID)
	case service.EventDeviceDisconnected:
		logger.Info("device disconnected", "deviceId", event.DeviceID)
	case service.EventDeviceStatus:
		logger.Debug("device status", "deviceId", event.DeviceID)
	case service.EventAppConnected:
		if authorized[event.AppID] {
			if err := svc.AuthorizeApp(event.AppID); err != nil {
				logger.Warn("failed to authorize app", "appId", event.AppID, "err", err)
			}
			return
		}
		logger.Info("app connected", "appId", event.AppID, "conn", event.ConnID)
	case service.EventAppAuthorized:
		logger.Info("app authorized", "appId", event.AppID)
	case service.EventAppDisconnected:
		logger.Info("app disconnected", "appId", event.AppID)
	case service.EventUnhandledMessage:
		logger.Warn("unhandled message type", "type", event.MessageType, "conn", event.ConnID)
	}
}
