package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buttbee/buttbee-go/internal/notify"
	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/interaction"
	"github.com/buttbee/buttbee-go/pkg/log"
	"github.com/buttbee/buttbee-go/pkg/transport"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Connection errors.
var (
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", interaction.ErrUsage)
	ErrNotConnected     = fmt.Errorf("%w: not connected", interaction.ErrUsage)
	ErrClosed           = fmt.Errorf("%w: connection closed", interaction.ErrUsage)
)

// captureSetter is implemented by channels that capture their own frames.
type captureSetter interface {
	SetLogger(logger log.Logger, connID string)
}

// Conn is a client session with a Buttplug server.
type Conn struct {
	cfg     Config
	logger  *slog.Logger
	connID  string
	metrics *metrics
	corr    *interaction.Correlator

	// sentAt maps request ids to their write time for round-trip capture.
	sentAt sync.Map

	mu         sync.RWMutex
	state      State
	channel    transport.Channel
	serverInfo wire.ServerInfo
	devices    map[uint32]*device.Device
	queue      *notify.Queue
	keepAlive  *transport.KeepAlive
	cancelRead context.CancelFunc
	readDone   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	onMessage          notify.Registry[wire.Envelope]
	onDeviceAdded      notify.Registry[*device.Device]
	onDeviceRemoved    notify.Registry[*device.Device]
	onStateChange      notify.Registry[StateChange]
	onScanningFinished notify.Registry[struct{}]
	onServerError      notify.Registry[*interaction.ProtocolError]
}

// New creates a disconnected Conn.
func New(cfg Config) *Conn {
	cfg = cfg.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	connID := uuid.NewString()
	logger = logger.With("component", "client", "conn_id", connID)

	return &Conn{
		cfg:     cfg,
		logger:  logger,
		connID:  connID,
		metrics: newMetrics(cfg.Registerer),
		corr:    interaction.NewCorrelator(logger),
		devices: make(map[uint32]*device.Device),
		closed:  make(chan struct{}),
	}
}

// ConnectionID returns the id used in logs and protocol capture.
func (c *Conn) ConnectionID() string { return c.connID }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ServerInfo returns the handshake reply.
func (c *Conn) ServerInfo() wire.ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Done is closed once the connection is fully torn down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Connect dials the server and performs the handshake. On failure the
// connection is closed and cannot be reused.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.queue = notify.NewQueue(c.logger)
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	c.logger.Info("connecting", "url", c.cfg.URL)
	ch, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		err = fmt.Errorf("%w: %w", interaction.ErrTransport, err)
		c.shutdown(err)
		return err
	}
	if cs, ok := ch.(captureSetter); ok && c.cfg.ProtocolLogger != nil {
		cs.SetLogger(c.cfg.ProtocolLogger, c.connID)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		cancel()
		_ = ch.Close()
		return ErrClosed
	}
	c.channel = ch
	c.cancelRead = cancel
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(readCtx, ch, done)

	info := &wire.ServerInfo{}
	req := &wire.RequestServerInfo{
		ClientName:     ClientNamePrefix + c.cfg.ClientName,
		MessageVersion: wire.MessageVersion,
	}
	if err := c.roundtrip(ctx, wire.NameOf(req), req, info); err != nil {
		c.logger.Error("handshake failed", "error", err, "fatal", true)
		c.shutdown(err)
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrClosed
	}
	c.serverInfo = *info
	c.setStateLocked(StateConnected, nil)
	if info.MaxPingTime > 0 {
		interval := transport.PingInterval(time.Duration(info.MaxPingTime) * time.Millisecond)
		c.keepAlive = transport.NewKeepAlive(transport.KeepAliveConfig{Interval: interval}, c.ping, c.keepAliveFailed)
		c.keepAlive.Start(context.Background())
	}
	c.mu.Unlock()

	c.logger.Info("connected",
		"server", info.ServerName,
		"message_version", info.MessageVersion,
		"max_ping_time_ms", info.MaxPingTime)
	if info.MaxPingTime == 0 {
		c.logger.Warn("server does not require pings, keep-alive disabled")
	}

	if c.cfg.SettleDelay > 0 {
		t := time.NewTimer(c.cfg.SettleDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	return nil
}

// KeepAliveRunning reports whether pings are being scheduled.
func (c *Conn) KeepAliveRunning() bool {
	c.mu.RLock()
	ka := c.keepAlive
	c.mu.RUnlock()
	return ka != nil && ka.IsRunning()
}

// Close stops all devices if the link is healthy, then tears the connection
// down. Pending requests fail with interaction.ErrConnectionClosed. It is
// safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	<-c.closed
	return nil
}

// fail starts an unrequested teardown without blocking the caller, which
// may be the read loop or the keep-alive goroutine.
func (c *Conn) fail(cause error) {
	go c.shutdown(cause)
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		healthy := cause == nil && c.state == StateConnected
		if c.state != StateClosed {
			c.setStateLocked(StateClosing, cause)
		}
		ch, ka, cancel, readDone := c.channel, c.keepAlive, c.cancelRead, c.readDone
		c.mu.Unlock()

		if cause != nil {
			c.logger.Error("connection lost", "error", cause, "fatal", true)
		} else {
			c.logger.Info("closing connection")
		}

		if healthy {
			ctx, stop := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
			if err := c.roundtrip(ctx, "StopAllDevices", &wire.StopAllDevices{}, &wire.Ok{}); err != nil {
				c.logger.Warn("stopping devices on close", "error", err)
			}
			stop()
		}

		if ka != nil {
			ka.Stop()
		}
		if cancel != nil {
			cancel()
		}
		if ch != nil {
			_ = ch.Close()
		}
		if readDone != nil {
			<-readDone
		}

		c.corr.CloseAll(cause)

		c.mu.Lock()
		for _, d := range c.devices {
			d.MarkDisconnected()
		}
		c.devices = make(map[uint32]*device.Device)
		c.metrics.devices.Set(0)
		c.setStateLocked(StateClosed, nil)
		q := c.queue
		c.mu.Unlock()

		// Observers already queued still run; Close may itself be called
		// from one of them.
		if q != nil {
			q.Close()
		}
		close(c.closed)
	})
}

// setStateLocked records a transition and queues its notification. c.mu
// must be held.
func (c *Conn) setStateLocked(s State, cause error) {
	old := c.state
	if old == s {
		return
	}
	c.state = s
	c.logger.Debug("state change", "old", old.String(), "new", s.String())

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	c.capture(log.Event{
		Layer:    log.LayerClient,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: s.String(),
			Reason:   reason,
		},
	})

	change := StateChange{Old: old, New: s, Err: cause}
	c.post(func() { c.onStateChange.Emit(change) })
}

// post queues fn on the notifier. It is dropped once the notifier closed.
func (c *Conn) post(fn func()) {
	if c.queue != nil {
		c.queue.Post(fn)
	}
}

func (c *Conn) ping(ctx context.Context) error {
	c.capture(log.Event{
		Direction:  log.DirectionOut,
		Layer:      log.LayerClient,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPing},
	})
	start := time.Now()
	if err := c.roundtrip(ctx, "Ping", &wire.Ping{}, &wire.Ok{}); err != nil {
		return err
	}
	latency := time.Since(start)
	c.capture(log.Event{
		Direction:  log.DirectionIn,
		Layer:      log.LayerClient,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPong, Latency: &latency},
	})
	return nil
}

func (c *Conn) keepAliveFailed(err error) {
	c.metrics.keepAliveFailures.Inc()
	c.fail(fmt.Errorf("%w: keep-alive: %w", interaction.ErrTransport, err))
}

// Send sends msg and expects an Ok reply.
func (c *Conn) Send(ctx context.Context, msg wire.Message) error {
	return c.Roundtrip(ctx, msg, &wire.Ok{})
}

// Roundtrip sends msg under its type name and decodes the reply into reply.
// A server Error reply is returned as *interaction.ProtocolError.
func (c *Conn) Roundtrip(ctx context.Context, msg wire.Message, reply wire.Message) error {
	return c.RoundtripNamed(ctx, wire.NameOf(msg), msg, reply)
}

// RoundtripNamed is Roundtrip with an explicit message name.
func (c *Conn) RoundtripNamed(ctx context.Context, name string, msg wire.Message, reply wire.Message) error {
	switch c.State() {
	case StateConnected:
	case StateClosing, StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
	return c.roundtrip(ctx, name, msg, reply)
}

func (c *Conn) roundtrip(ctx context.Context, name string, msg wire.Message, reply wire.Message) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	if c.cfg.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
			defer cancel()
		}
	}

	id := c.corr.Allocate()
	msg.SetMessageID(id)
	call, err := c.corr.Register(id, wire.NameOf(reply))
	if err != nil {
		return err
	}
	c.metrics.pending.Inc()
	defer c.metrics.pending.Dec()

	data, err := wire.EncodeEnvelope(name, msg)
	if err != nil {
		c.corr.Forget(id)
		return err
	}

	c.captureMessage(log.DirectionOut, log.MessageTypeRequest, name, id, msg)
	c.sentAt.Store(id, time.Now())
	defer c.sentAt.Delete(id)

	if err := ch.Send(ctx, data); err != nil {
		c.corr.Forget(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: send %s: %w", interaction.ErrTransport, name, err)
	}
	c.metrics.framesOut.Inc()

	env, err := call.Wait(ctx)
	if err != nil {
		c.corr.Forget(id)
		return err
	}
	if err := call.Decode(env, reply); err != nil {
		var pe *interaction.ProtocolError
		if errors.As(err, &pe) {
			c.metrics.protocolErrors.Inc()
		}
		return err
	}
	return nil
}

// StartScanning asks the server to look for devices.
func (c *Conn) StartScanning(ctx context.Context) error {
	if err := c.Send(ctx, &wire.StartScanning{}); err != nil {
		return err
	}
	c.logger.Info("started scanning")
	c.captureScanning("SCANNING")
	return nil
}

// StopScanning ends a scan.
func (c *Conn) StopScanning(ctx context.Context) error {
	if err := c.Send(ctx, &wire.StopScanning{}); err != nil {
		return err
	}
	c.logger.Info("stopped scanning")
	c.captureScanning("IDLE")
	return nil
}

// StopAllDevices halts every device on the server.
func (c *Conn) StopAllDevices(ctx context.Context) error {
	if err := c.Send(ctx, &wire.StopAllDevices{}); err != nil {
		return err
	}
	c.logger.Info("stopped all devices")
	return nil
}

// OnMessage registers fn for every received envelope.
func (c *Conn) OnMessage(fn func(wire.Envelope)) (remove func()) {
	return c.onMessage.Add(fn)
}

// OnDeviceAdded registers fn for attached devices.
func (c *Conn) OnDeviceAdded(fn func(*device.Device)) (remove func()) {
	return c.onDeviceAdded.Add(fn)
}

// OnDeviceRemoved registers fn for detached devices. A DeviceAdded event
// for an index already in the table detaches the old instance first, so fn
// sees it before the attach of its replacement.
func (c *Conn) OnDeviceRemoved(fn func(*device.Device)) (remove func()) {
	return c.onDeviceRemoved.Add(fn)
}

// OnStateChange registers fn for connection state transitions.
func (c *Conn) OnStateChange(fn func(StateChange)) (remove func()) {
	return c.onStateChange.Add(fn)
}

// OnScanningFinished registers fn for the end of a scan.
func (c *Conn) OnScanningFinished(fn func()) (remove func()) {
	return c.onScanningFinished.Add(func(struct{}) { fn() })
}

// OnServerError registers fn for unsolicited server errors.
func (c *Conn) OnServerError(fn func(*interaction.ProtocolError)) (remove func()) {
	return c.onServerError.Add(fn)
}

var _ device.Sender = (*Conn)(nil)
