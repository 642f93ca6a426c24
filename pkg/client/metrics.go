package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "buttbee"

// metrics are the per-connection Prometheus collectors. Connections sharing
// a registerer share the collectors.
type metrics struct {
	framesIn          prometheus.Counter
	framesOut         prometheus.Counter
	malformed         prometheus.Counter
	protocolErrors    prometheus.Counter
	keepAliveFailures prometheus.Counter
	pending           prometheus.Gauge
	devices           prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	counter := func(name, help string) prometheus.Counter {
		return register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      name,
			Help:      help,
		}))
	}
	gauge := func(name, help string) prometheus.Gauge {
		return register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      name,
			Help:      help,
		}))
	}

	return &metrics{
		framesIn:          counter("frames_received_total", "Transport frames received."),
		framesOut:         counter("messages_sent_total", "Messages written to the transport."),
		malformed:         counter("malformed_messages_total", "Received messages that could not be decoded."),
		protocolErrors:    counter("protocol_errors_total", "Requests answered with an Error or an unexpected reply."),
		keepAliveFailures: counter("keepalive_failures_total", "Keep-alive pings that failed and ended the session."),
		pending:           gauge("pending_requests", "Requests awaiting a reply."),
		devices:           gauge("devices", "Devices currently attached."),
	}
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
