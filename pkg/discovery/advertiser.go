package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS constants.
const (
	// ServiceType is the DNS-SD service type for a KioskNet coordinator.
	ServiceType = "_kiosknet._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultInstanceName is used when no coordinator name is configured.
	DefaultInstanceName = "KioskNet Coordinator"
)

// Info describes the endpoint to advertise.
type Info struct {
	// Name is the operator-facing coordinator name.
	Name string

	// Port is the listening port.
	Port int

	// Version is the protocol version the coordinator speaks.
	Version string

	// Fingerprint is the server certificate fingerprint
	// (see CertificateFingerprint).
	Fingerprint string
}

// AdvertiserConfig configures the mDNS advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to a single named network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the record time-to-live (0 for the library default).
	TTL time.Duration
}

// Advertiser publishes the coordinator endpoint over mDNS. At most one
// registration is active at a time; a second Advertise replaces the first.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates a new mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// interfaces returns the network interfaces to advertise on.
// Returns nil to use all interfaces.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts publishing the endpoint. An already active registration
// is shut down first.
func (a *Advertiser) Advertise(ctx context.Context, info *Info) error {
	if info.Port <= 0 {
		return fmt.Errorf("invalid advertise port %d", info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instanceName := info.Name
	if instanceName == "" {
		instanceName = DefaultInstanceName
	}

	txtStrings := TXTRecordsToStrings(EncodeEndpointTXT(info))

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		info.Port,
		txtStrings,
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when not advertising.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsAdvertising reports whether a registration is currently active.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
