// Package transport provides the message channel beneath a Buttplug
// session.
//
// The transport layer handles:
//   - Websocket connections (gorilla/websocket) surfaced as bounded fragments
//   - Reassembly of fragments into logical text messages
//   - Keep-alive ping scheduling
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   JSON envelope arrays         │
//	├────────────────────────────────┤
//	│   Reassembler (fragments)      │
//	├────────────────────────────────┤
//	│   Websocket text messages      │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Channels
//
// A Channel delivers Frames. A frame is at most one read chunk of a
// websocket message; Final marks the last fragment. Pipe returns an
// in-memory channel pair for tests and embedding.
//
// # Keep-Alive
//
// Servers announce MaxPingTime in the handshake. The client pings every
// MaxPingTime/4, never more often than every 10ms. A failed ping is fatal
// to the session.
package transport
