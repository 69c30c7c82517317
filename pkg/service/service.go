package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/registry"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/transport"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// Service is the fleet coordination server. It owns the transport
// server, both connection registries, and the message dispatcher.
type Service struct {
	mu sync.RWMutex

	config Config
	state  ServiceState

	server     *transport.Server
	devices    *registry.DeviceRegistry
	apps       *registry.AppRegistry
	dispatcher *Dispatcher
	layouts    LayoutStore
	minter     *TokenMinter
	requests   *requestTracker

	// keepalives tracks the per-connection ping scheduler.
	keepalives map[string]*transport.KeepAlive

	eventHandlers []EventHandler

	logger         logWriter
	protocolLogger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// logWriter narrows *slog.Logger so a nil logger needs no branching at
// call sites.
type logWriter interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogWriter struct{}

func (noopLogWriter) Debug(string, ...any) {}
func (noopLogWriter) Info(string, ...any)  {}
func (noopLogWriter) Warn(string, ...any)  {}
func (noopLogWriter) Error(string, ...any) {}

// New creates a service from the given config.
func New(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = transport.DefaultShutdownTimeout
	}
	if config.ReaperInterval <= 0 {
		config.ReaperInterval = 10 * time.Second
	}
	if config.ProvisionalTimeout <= 0 {
		config.ProvisionalTimeout = 30 * time.Second
	}
	if config.Layouts == nil {
		config.Layouts = NewMemoryLayoutStore()
	}
	protocolLogger := config.ProtocolLogger
	if protocolLogger == nil {
		protocolLogger = log.NoopLogger{}
	}

	svc := &Service{
		config:         config,
		state:          StateIdle,
		devices:        registry.NewDeviceRegistry(),
		apps:           registry.NewAppRegistry(),
		layouts:        config.Layouts,
		minter:         NewTokenMinter(config.TokenSecret),
		requests:       newRequestTracker(),
		keepalives:     make(map[string]*transport.KeepAlive),
		protocolLogger: protocolLogger,
		logger:         noopLogWriter{},
	}
	if config.Logger != nil {
		svc.logger = config.Logger
	}

	svc.dispatcher = NewDispatcher(protocolLogger)
	svc.dispatcher.SetOrigin(func(connID string) log.Peer {
		if _, err := svc.apps.ByConn(connID); err == nil {
			return log.PeerApp
		}
		if entry, err := svc.devices.ByConn(connID); err == nil && entry.Registered() {
			return log.PeerDevice
		}
		return log.PeerUnknown
	})
	svc.dispatcher.SetUnhandled(func(header *wire.Header, raw []byte, connID string) {
		svc.logger.Debug("unhandled message type", "type", header.Type, "conn", connID)
		svc.emitEvent(Event{Type: EventUnhandledMessage, ConnID: connID, MessageType: header.Type})
	})
	if err := svc.registerHandlers(); err != nil {
		return nil, err
	}

	svc.devices.OnRegistered(func(entry *registry.DeviceEntry) {
		svc.emitEvent(Event{Type: EventDeviceRegistered, ConnID: entry.Session.ID(), DeviceID: entry.DeviceID})
	})
	svc.devices.OnDisconnect(func(entry *registry.DeviceEntry) {
		svc.emitEvent(Event{Type: EventDeviceDisconnected, ConnID: entry.Session.ID(), DeviceID: entry.DeviceID})
	})

	return svc, nil
}

// registerHandlers builds the dispatch table.
func (s *Service) registerHandlers() error {
	handlers := []Handler{
		&registerHandler{svc: s},
		&heartbeatHandler{svc: s},
		&statusReportHandler{svc: s},
		&screenshotHandler{svc: s},
		&deviceLogHandler{svc: s},
		&updateConfigResponseHandler{svc: s},
		&commandResultHandler{svc: s},
		&appRegisterHandler{svc: s},
		&appHeartbeatHandler{svc: s},
		&requestClientListHandler{svc: s},
		&sendCommandHandler{svc: s},
		&assignLayoutHandler{svc: s},
		&requestScreenshotHandler{svc: s},
		&requestLayoutListHandler{svc: s},
	}
	for _, h := range handlers {
		if err := s.dispatcher.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// State returns the current service state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers an event handler. Must be called before Start.
func (s *Service) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Devices returns the device registry.
func (s *Service) Devices() *registry.DeviceRegistry {
	return s.devices
}

// Apps returns the app registry.
func (s *Service) Apps() *registry.AppRegistry {
	return s.apps
}

// Server returns the transport server (nil before Start).
func (s *Service) Server() *transport.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// Start binds the listener and begins accepting connections.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	server, err := transport.NewServer(transport.ServerConfig{
		TLSConfig:       s.config.TLSConfig,
		Host:            s.config.Host,
		Port:            s.config.Port,
		FallbackPorts:   s.config.FallbackPorts,
		MaxMessageSize:  s.config.MaxMessageSize,
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          s.protocolLogger,
		OnConnect:       s.handleConnect,
		OnDisconnect:    s.handleDisconnect,
		OnMessage:       s.handleMessage,
		OnError: func(conn *transport.Conn, err error) {
			connID := ""
			if conn != nil {
				connID = conn.ID()
			}
			s.logger.Warn("transport error", "conn", connID, "err", err)
		},
	})
	if err != nil {
		s.setState(StateStopped)
		return err
	}

	if err := server.Start(s.ctx); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("transport start: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.state = StateRunning
	s.mu.Unlock()

	s.tasks.Add(1)
	go s.runReaper()

	s.logger.Info("service started", "addr", server.Addr().String())
	return nil
}

func (s *Service) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Stop drains connections and shuts the service down. Safe to call once.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	server := s.server
	s.mu.Unlock()

	s.cancel()

	s.mu.Lock()
	for id, ka := range s.keepalives {
		ka.Stop()
		delete(s.keepalives, id)
	}
	s.mu.Unlock()

	err := server.Stop()
	s.tasks.Wait()

	s.setState(StateStopped)
	s.logger.Info("service stopped")
	return err
}

// handleConnect tracks every fresh connection as a provisional device
// until its first Register or AppRegister classifies it.
func (s *Service) handleConnect(conn *transport.Conn) {
	s.devices.Add(conn)
	s.startKeepAlive(conn)
	s.logger.Debug("connection accepted", "conn", conn.ID(), "remote", conn.RemoteAddr().String())
}

func (s *Service) handleDisconnect(conn *transport.Conn) {
	s.stopKeepAlive(conn.ID())

	if entry, err := s.devices.RemoveByConn(conn.ID()); err == nil {
		if entry.Registered() {
			s.broadcastStatusChanged(entry.DeviceID, entry.Status, false)
			s.broadcastClientList("")
		}
		return
	}
	if entry, err := s.apps.Remove(conn.ID()); err == nil {
		s.emitEvent(Event{Type: EventAppDisconnected, ConnID: conn.ID(), AppID: entry.AppID})
	}
}

// handleMessage decodes the envelope header, applies the version gate,
// and hands the message to the dispatcher.
func (s *Service) handleMessage(conn *transport.Conn, msg *transport.Message) {
	header, err := wire.DecodeHeader(msg.Payload)
	if err != nil {
		s.logger.Warn("undecodable message", "conn", conn.ID(), "err", err)
		return
	}

	if err := checkVersionCompatibility(header.Version); err != nil {
		s.logger.Warn("version mismatch", "conn", conn.ID(), "peer_version", header.Version)
		if data, merr := wire.Encode(wire.NewVersionMismatchError(version.Current, header.Version)); merr == nil {
			_ = conn.SendText(data)
		}
		_ = conn.Close(transport.CloseProtocolError, "incompatible protocol version")
		return
	}

	_ = s.dispatcher.Dispatch(s.ctx, header, msg.Payload, conn.ID())
}

func (s *Service) startKeepAlive(conn *transport.Conn) {
	ka := transport.NewKeepAlive(s.config.KeepAlive,
		func(seq uint32) error {
			return conn.SendFrame(transport.OpcodePing, transport.EncodePingPayload(seq))
		},
		func() {
			s.logger.Warn("keep-alive timeout", "conn", conn.ID())
			conn.ForceClose()
		},
	)
	conn.SetPongHandler(func(payload []byte) {
		ka.PongReceived(transport.DecodePingPayload(payload))
	})

	s.mu.Lock()
	s.keepalives[conn.ID()] = ka
	s.mu.Unlock()

	ka.Start(s.ctx)
}

func (s *Service) stopKeepAlive(connID string) {
	s.mu.Lock()
	ka, ok := s.keepalives[connID]
	if ok {
		delete(s.keepalives, connID)
	}
	s.mu.Unlock()
	if ok {
		ka.Stop()
	}
}

// runReaper periodically closes connections that never identified
// themselves and fails requests whose device reply never arrived.
func (s *Service) runReaper() {
	defer s.tasks.Done()

	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range s.devices.Provisional(s.config.ProvisionalTimeout) {
				s.logger.Info("closing unidentified connection", "conn", entry.Session.ID())
				_ = entry.Session.Close(transport.CloseNormal, "registration timeout")
			}
			for _, req := range s.requests.ExpireOlder(2 * s.config.ProvisionalTimeout) {
				s.failRequest(req, "request timed out")
			}
		}
	}
}

// failRequest reports a dead in-flight request back to the app that
// issued it.
func (s *Service) failRequest(req pendingRequest, reason string) {
	entry, err := s.apps.ByConn(req.AppConnID)
	if err != nil {
		return
	}
	var msg any
	switch req.Kind {
	case requestScreenshot:
		msg = &wire.ScreenshotResponseMessage{
			Envelope: wire.NewEnvelope(wire.TypeScreenshotResponse, version.Current),
			DeviceID: req.TargetID,
			Error:    reason,
		}
	default:
		msg = &wire.CommandResultMessage{
			Envelope: wire.NewEnvelope(wire.TypeCommandResult, version.Current),
			TargetID: req.TargetID,
			Success:  false,
			Error:    reason,
		}
	}
	s.sendTo(entry.Session, msg)
}

// sendTo marshals and sends a message, logging failures.
func (s *Service) sendTo(sess registry.Session, msg any) {
	data, err := wire.Encode(msg)
	if err != nil {
		s.logger.Error("encode outgoing message", "err", err)
		return
	}
	if err := sess.SendText(data); err != nil {
		s.logger.Debug("send failed", "conn", sess.ID(), "err", err)
	}
}

// AuthorizeApp grants the pending app a bearer token and notifies it.
func (s *Service) AuthorizeApp(appID string) error {
	entry, err := s.apps.ByApp(appID)
	if err != nil {
		return ErrAppNotPending
	}
	if entry.Authorized() {
		return nil
	}
	token, err := s.minter.Mint(appID)
	if err != nil {
		return err
	}
	if _, err := s.apps.Authorize(entry.Session.ID(), token); err != nil {
		return err
	}
	s.sendTo(entry.Session, &wire.AppAuthorizedMessage{
		Envelope:    wire.NewEnvelope(wire.TypeAppAuthorized, version.Current),
		Token:       token,
		Permissions: defaultAppPermissions,
	})
	s.emitEvent(Event{Type: EventAppAuthorized, ConnID: entry.Session.ID(), AppID: appID})
	return nil
}

// RejectApp refuses a pending app and closes its connection.
func (s *Service) RejectApp(appID, reason string) error {
	entry, err := s.apps.ByApp(appID)
	if err != nil {
		return ErrAppNotPending
	}
	s.sendTo(entry.Session, &wire.AppRejectedMessage{
		Envelope: wire.NewEnvelope(wire.TypeAppRejected, version.Current),
		Reason:   reason,
	})
	return entry.Session.Close(transport.CloseNormal, "authorization rejected")
}

// defaultAppPermissions are the permissions granted to authorized apps.
var defaultAppPermissions = []string{"fleet.read", "fleet.command", "fleet.layout"}

func (s *Service) emitEvent(event Event) {
	s.mu.RLock()
	handlers := make([]EventHandler, len(s.eventHandlers))
	copy(handlers, s.eventHandlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
