package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/interaction"
	"github.com/buttbee/buttbee-go/pkg/transport"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// readLoop reads frames until ctx is cancelled or the channel ends. A
// transport failure or a close frame tears the connection down.
func (c *Conn) readLoop(ctx context.Context, ch transport.Channel, done chan struct{}) {
	defer close(done)

	r := transport.NewReassembler(c.cfg.MaxMessageSize)
	for ctx.Err() == nil {
		f, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(fmt.Errorf("%w: receive: %w", interaction.ErrTransport, err))
			return
		}
		if f.Kind == transport.FrameClose {
			c.logger.Info("server closed connection", "reason", string(f.Data))
			c.fail(fmt.Errorf("%w: closed by server", interaction.ErrTransport))
			return
		}
		c.metrics.framesIn.Inc()

		msg, complete, err := r.Push(f)
		if err != nil {
			c.malformed(err, "reassembly")
			continue
		}
		if !complete {
			continue
		}

		// Bad elements are dropped one by one; the rest still dispatches.
		envs, errs := wire.DecodeBundle(msg)
		for _, err := range errs {
			c.malformed(err, "decode")
		}
		for _, env := range envs {
			c.dispatch(env)
		}
	}
}

// dispatch handles one envelope on the read loop.
func (c *Conn) dispatch(env wire.Envelope) {
	c.captureEnvelope(env)
	c.post(func() { c.onMessage.Emit(env) })

	if env.ID != wire.EventID {
		c.corr.Resolve(env)
		return
	}

	switch env.Name {
	case "DeviceAdded":
		var msg wire.DeviceAdded
		if err := wire.Unmarshal(env.Body, &msg); err != nil {
			c.malformed(fmt.Errorf("%w: DeviceAdded: %v", wire.ErrMalformed, err), "event")
			return
		}
		c.deviceAdded(msg.DeviceInfo)

	case "DeviceRemoved":
		var msg wire.DeviceRemoved
		if err := wire.Unmarshal(env.Body, &msg); err != nil {
			c.malformed(fmt.Errorf("%w: DeviceRemoved: %v", wire.ErrMalformed, err), "event")
			return
		}
		c.deviceRemoved(msg.DeviceIndex)

	case "SensorReading":
		var msg wire.SensorReading
		if err := wire.Unmarshal(env.Body, &msg); err != nil {
			c.malformed(fmt.Errorf("%w: SensorReading: %v", wire.ErrMalformed, err), "event")
			return
		}
		d := c.Device(msg.DeviceIndex)
		if d == nil {
			c.logger.Debug("sensor reading for unknown device", "index", msg.DeviceIndex)
			return
		}
		// Sensor observers may issue requests, so they must not run on
		// the read loop.
		c.post(func() { d.BroadcastSensorData(&msg) })

	case "ScanningFinished":
		c.logger.Info("scanning finished")
		c.captureScanning("FINISHED")
		c.post(func() { c.onScanningFinished.Emit(struct{}{}) })

	case "Error":
		var msg wire.Error
		if err := wire.Unmarshal(env.Body, &msg); err != nil {
			c.malformed(fmt.Errorf("%w: Error: %v", wire.ErrMalformed, err), "event")
			return
		}
		c.logger.Warn("server error", "code", msg.ErrorCode.String(), "message", msg.ErrorMessage)
		pe := &interaction.ProtocolError{Code: msg.ErrorCode, Message: msg.ErrorMessage}
		c.post(func() { c.onServerError.Emit(pe) })

	default:
		c.logger.Warn("unhandled event", "name", env.Name)
	}
}

func (c *Conn) deviceAdded(info wire.DeviceInfo) {
	d := device.New(info, c, c.logger)

	c.mu.Lock()
	old := c.devices[info.DeviceIndex]
	c.devices[info.DeviceIndex] = d
	c.metrics.devices.Set(float64(len(c.devices)))
	c.mu.Unlock()

	if old != nil {
		old.MarkDisconnected()
		c.logger.Info("device replaced", "device", old.DisplayName(), "index", info.DeviceIndex)
		c.captureDevice(info.DeviceIndex, "DETACHED")
		c.post(func() { c.onDeviceRemoved.Emit(old) })
	}
	c.logger.Info("device attached", "device", d.DisplayName(), "index", d.Index())
	c.captureDevice(d.Index(), "ATTACHED")
	c.post(func() { c.onDeviceAdded.Emit(d) })
}

func (c *Conn) deviceRemoved(index uint32) {
	c.mu.Lock()
	d, ok := c.devices[index]
	delete(c.devices, index)
	c.metrics.devices.Set(float64(len(c.devices)))
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("removal of unknown device", "index", index)
		return
	}
	d.MarkDisconnected()
	c.logger.Info("device detached", "device", d.DisplayName(), "index", index)
	c.captureDevice(index, "DETACHED")
	c.post(func() { c.onDeviceRemoved.Emit(d) })
}

// malformed logs, counts and captures a message that could not be used.
func (c *Conn) malformed(err error, stage string) {
	c.metrics.malformed.Inc()
	if !errors.Is(err, wire.ErrMalformed) {
		err = fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}
	c.logger.Warn("dropping malformed message", "stage", stage, "error", err)
	c.captureError(err, stage)
}
