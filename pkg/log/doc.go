// Package log provides protocol capture for Buttplug sessions.
//
// Capture is separate from operational logging (slog): it records a
// machine-readable trace of every fragment, envelope, keep-alive and state
// change a connection sees, for later inspection with buttbee-log.
//
// # Basic Usage
//
//	// Console, at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture file
//	fl, _ := log.NewFileLogger("session.bblog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
//	// Envelopes only
//	layer := log.LayerWire
//	cfg.ProtocolLogger = log.NewFilteredLogger(fl, log.Filter{Layer: &layer})
//
// # Event Types
//
//   - Transport: websocket fragments (FrameEvent)
//   - Wire: decoded envelopes (MessageEvent)
//   - Client: connection, scanning and device lifecycle (StateChangeEvent)
//
// Keep-alive pings and errors have dedicated event types.
//
// # File Format
//
// A capture file starts with a CBOR header map {1: "buttbee-capture",
// 2: version, 3: created} followed by a stream of CBOR-encoded events with
// integer keys. Readers reject files without the header (ErrNotCapture) and
// files newer than CaptureVersion (ErrUnsupportedVersion). Appending to an
// existing file does not write a second header.
package log
