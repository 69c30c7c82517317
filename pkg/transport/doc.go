// Package transport provides the KioskNet transport layer implementation.
//
// The transport layer handles:
//   - TLS connections (TLS 1.2 minimum, TLS 1.3 preferred)
//   - The HTTP Upgrade / WebSocket handshake (RFC 6455)
//   - WebSocket frame encoding and decoding, including client masking,
//     continuation reassembly, and control frame multiplexing
//   - Keep-alive ping/pong for connection liveness
//   - Connection and listener state management with graceful shutdown
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│     JSON Message Envelopes     │
//	├────────────────────────────────┤
//	│   WebSocket Framing (RFC 6455) │
//	├────────────────────────────────┤
//	│        TLS 1.2 / 1.3           │
//	├────────────────────────────────┤
//	│            TCP                 │
//	└────────────────────────────────┘
//
// The WebSocket layer is implemented here rather than taken from a library
// because the server must interoperate with display firmware whose framing
// behavior predates mainstream stacks and must stay byte-for-byte stable.
//
// # Keep-Alive
//
// Connection liveness is monitored using ping/pong control frames:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
package transport
