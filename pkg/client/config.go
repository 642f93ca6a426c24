package client

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/buttbee/buttbee-go/pkg/log"
	"github.com/buttbee/buttbee-go/pkg/transport"
)

// Defaults.
const (
	DefaultURL         = "ws://127.0.0.1:12345"
	DefaultClientName  = "Buttbee.Client"
	DefaultStopTimeout = time.Second

	// ClientNamePrefix is prepended to ClientName in the handshake.
	ClientNamePrefix = "Buttbee/0.1; "
)

// Config configures a Conn.
type Config struct {
	// URL is the server websocket endpoint.
	URL string

	// ClientName identifies the client to the server.
	ClientName string

	// Dialer opens the channel. Nil selects a websocket dialer.
	Dialer transport.Dialer

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures frames, messages and state changes. Nil
	// disables capture.
	ProtocolLogger log.Logger

	// Registerer receives the connection metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// RequestTimeout bounds every request that has no earlier deadline.
	// Zero means no bound.
	RequestTimeout time.Duration

	// SettleDelay is waited after a successful handshake so the server can
	// announce already attached devices.
	SettleDelay time.Duration

	// StopTimeout bounds the stop-all request sent by Close.
	StopTimeout time.Duration

	// MaxMessageSize limits a reassembled message. Zero selects
	// transport.DefaultMaxMessageSize.
	MaxMessageSize int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.Dialer == nil {
		c.Dialer = &transport.WebSocketDialer{}
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}
