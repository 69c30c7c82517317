package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
)

// Server states.
type ServerState int32

const (
	// ServerStopped indicates the server is not running.
	ServerStopped ServerState = iota

	// ServerStarting indicates the listener is being bound.
	ServerStarting

	// ServerListening indicates the accept loop is running.
	ServerListening

	// ServerDraining indicates shutdown is in progress.
	ServerDraining
)

// String returns the server state name.
func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "STOPPED"
	case ServerStarting:
		return "STARTING"
	case ServerListening:
		return "LISTENING"
	case ServerDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Server errors.
var (
	// ErrServerRunning is returned by Start on an already running server.
	ErrServerRunning = errors.New("server already running")

	// ErrBindFailed is returned when the configured port and every
	// fallback port fail to bind.
	ErrBindFailed = errors.New("failed to bind listener")

	// ErrDrainTimeout is returned by Stop when connection units did not
	// finish inside the shutdown timeout and were abandoned.
	ErrDrainTimeout = errors.New("shutdown drain timed out")
)

// DefaultShutdownTimeout bounds how long Stop waits for connection
// goroutines to drain before abandoning them.
const DefaultShutdownTimeout = 10 * time.Second

// defaultHandshakeTimeout bounds the TLS + WebSocket handshake.
const defaultHandshakeTimeout = 15 * time.Second

// ServerConfig configures a KioskNet transport server.
type ServerConfig struct {
	// TLSConfig contains TLS settings.
	TLSConfig *TLSConfig

	// Host is the address to bind (empty for all interfaces).
	Host string

	// Port is the preferred listen port. Zero binds an ephemeral port;
	// Addr reports the one the kernel picked.
	Port int

	// FallbackPorts are tried in order when Port fails to bind.
	FallbackPorts []int

	// MaxMessageSize is the maximum message size (default: 1MB).
	MaxMessageSize int

	// HandshakeTimeout bounds the TLS + upgrade handshake (default: 15s).
	HandshakeTimeout time.Duration

	// ShutdownTimeout bounds Stop's wait for draining units (default: 10s).
	ShutdownTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection completes its handshake.
	OnConnect func(conn *Conn)

	// OnDisconnect is called when a connection's receive loop exits.
	OnDisconnect func(conn *Conn)

	// OnMessage is called for each complete data message.
	OnMessage func(conn *Conn, msg *Message)

	// OnError is called when an error occurs. conn may be nil for
	// pre-handshake errors.
	OnError func(conn *Conn, err error)
}

// Server is the KioskNet TLS WebSocket listener. It owns the accept loop
// and tracks every spawned handling goroutine so Stop can drain them with
// a bounded wait.
type Server struct {
	config   ServerConfig
	tlsConf  *tls.Config
	listener net.Listener

	// Live connections, keyed by connection ID.
	conns   map[string]*Conn
	connsMu sync.RWMutex

	// State
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	// pending tracks the accept loop and every per-connection handling
	// unit; consulted only during shutdown.
	pending sync.WaitGroup
}

// NewServer creates a new transport server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	tlsConf, err := NewServerTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	s := &Server{
		config:  config,
		tlsConf: tlsConf,
		conns:   make(map[string]*Conn),
	}
	s.state.Store(int32(ServerStopped))
	return s, nil
}

// State returns the current server state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Start binds the listener and begins accepting connections. The
// configured port is tried first, then each fallback port in order.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStopped), int32(ServerStarting)) {
		return ErrServerRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := s.bind()
	if err != nil {
		s.state.Store(int32(ServerStopped))
		return err
	}
	s.listener = listener

	s.state.Store(int32(ServerListening))
	s.logListenerState("STARTING", "LISTENING", listener.Addr().String())

	s.pending.Add(1)
	go s.acceptLoop()

	return nil
}

// bind tries the configured port followed by the fallback ports.
func (s *Server) bind() (net.Listener, error) {
	ports := append([]int{s.config.Port}, s.config.FallbackPorts...)

	var lastErr error
	for _, port := range ports {
		addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", port))
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return listener, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: tried ports %v: %v", ErrBindFailed, ports, lastErr)
}

// Stop gracefully shuts the server down: it stops accepting, requests
// close on every live connection concurrently, waits for all tracked
// units up to ShutdownTimeout, then abandons stragglers with a warning.
// A hung peer never blocks shutdown indefinitely.
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(ServerListening), int32(ServerDraining)) {
		return nil
	}
	s.logListenerState("LISTENING", "DRAINING", "")

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	// Request close on all live connections concurrently.
	s.connsMu.RLock()
	live := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		live = append(live, conn)
	}
	s.connsMu.RUnlock()

	var closers sync.WaitGroup
	for _, conn := range live {
		closers.Add(1)
		go func(c *Conn) {
			defer closers.Done()
			_ = c.Close(CloseGoingAway, "server shutting down")
		}(conn)
	}
	closers.Wait()

	// Bounded wait for the accept loop and all handling units.
	var err error
	if !waitTimeout(&s.pending, s.config.ShutdownTimeout) {
		err = ErrDrainTimeout
		if s.config.Logger != nil {
			s.config.Logger.Log(log.Event{
				Timestamp: time.Now(),
				Layer:     log.LayerTransport,
				Category:  log.CategoryError,
				Error: &log.ErrorEventData{
					Layer:   log.LayerTransport,
					Message: "connection units did not drain in time and were abandoned",
					Context: "shutdown",
				},
			})
		}
	}

	s.connsMu.Lock()
	s.conns = make(map[string]*Conn)
	s.connsMu.Unlock()

	s.state.Store(int32(ServerStopped))
	s.logListenerState("DRAINING", "STOPPED", "")
	return err
}

// waitTimeout waits on wg up to timeout. Returns false on timeout.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Addr returns the server's listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connection returns a live connection by ID.
func (s *Server) Connection(id string) (*Conn, bool) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// acceptLoop accepts incoming connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.pending.Done()

	for {
		rawConn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || s.State() != ServerListening {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.pending.Add(1)
		go s.handleConnection(rawConn)
	}
}

// handleConnection performs the TLS and WebSocket handshakes, registers
// the connection, and runs its receive loop until it exits for any reason.
func (s *Server) handleConnection(rawConn net.Conn) {
	defer s.pending.Done()

	deadline := time.Now().Add(s.config.HandshakeTimeout)
	_ = rawConn.SetDeadline(deadline)

	// TLS handshake
	tlsConn := tls.Server(rawConn, s.tlsConf)
	if err := tlsConn.HandshakeContext(s.ctx); err != nil {
		rawConn.Close()
		if s.config.OnError != nil {
			s.config.OnError(nil, ClassifyTLSError(err))
		}
		return
	}

	// WebSocket upgrade over the TLS stream
	reader, _, err := Upgrade(tlsConn)
	if err != nil {
		tlsConn.Close()
		if s.config.OnError != nil {
			s.config.OnError(nil, fmt.Errorf("WebSocket handshake failed: %w", err))
		}
		return
	}

	_ = rawConn.SetDeadline(time.Time{})

	connID := uuid.New().String()
	conn := newConn(connID, tlsConn, reader, s.config.Logger, s.config.MaxMessageSize)

	s.logConnState(conn, "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	s.receiveLoop(conn)

	s.connsMu.Lock()
	delete(s.conns, connID)
	s.connsMu.Unlock()

	s.logConnState(conn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(conn)
	}
}

// receiveLoop reads messages from one connection until it closes. Frames
// within a connection are strictly ordered; this goroutine is the only
// receiver.
func (s *Server) receiveLoop(conn *Conn) {
	for {
		select {
		case <-s.ctx.Done():
			conn.ForceClose()
			return
		default:
		}

		msg, err := conn.ReceiveMessage()
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) && s.ctx.Err() == nil {
				if s.config.OnError != nil {
					s.config.OnError(conn, err)
				}
			}
			return
		}

		if s.config.OnMessage != nil {
			s.config.OnMessage(conn, msg)
		}
	}
}

// logListenerState logs a listener state change.
func (s *Server) logListenerState(oldState, newState, reason string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityListener,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// logConnState logs a connection state change.
func (s *Server) logConnState(conn *Conn, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}
