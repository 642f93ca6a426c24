package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/buttbee/buttbee-go/pkg/interaction"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Device errors. All wrap interaction.ErrUsage.
var (
	ErrDisconnected     = fmt.Errorf("%w: device disconnected", interaction.ErrUsage)
	ErrActuatorNotFound = fmt.Errorf("%w: actuator not found", interaction.ErrUsage)
	ErrSensorDataLength = fmt.Errorf("%w: sensor data length mismatch", interaction.ErrUsage)
	ErrEmptyCommand     = fmt.Errorf("%w: command has no entries", interaction.ErrUsage)
)

// Sender performs one correlated request. reply receives the decoded
// response; a server Error reply is returned as *interaction.ProtocolError.
type Sender interface {
	Roundtrip(ctx context.Context, msg wire.Message, reply wire.Message) error
}

// Device is one server-side device.
type Device struct {
	info        wire.DeviceInfo
	name        string
	displayName string
	gap         time.Duration

	sender Sender
	logger *slog.Logger

	pacer     pacer
	connected atomic.Bool

	actuatorCaps wire.ActuatorType
	sensorCaps   wire.SensorType

	scalars  []*ScalarActuator
	linears  []*LinearActuator
	rotators []*RotatorActuator
	sensors  []*Sensor
}

// New builds a connected device from its descriptor. A nil logger discards
// output.
func New(info wire.DeviceInfo, sender Sender, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Device{
		info:        info,
		name:        info.DeviceName,
		displayName: info.DeviceDisplayName,
		gap:         time.Duration(info.DeviceMessageTimingGap) * time.Millisecond,
		sender:      sender,
	}
	if d.displayName == "" {
		d.displayName = d.name
	}
	d.logger = logger.With("device", d.displayName, "index", info.DeviceIndex)
	d.connected.Store(true)

	msgs := info.DeviceMessages
	for i, attr := range msgs.ScalarCmd {
		a := newScalarActuator(d, uint32(i), attr)
		d.actuatorCaps = d.actuatorCaps.Union(attr.ActuatorType)
		d.scalars = append(d.scalars, a)
	}
	for i, attr := range msgs.LinearCmd {
		a := newLinearActuator(d, uint32(i), attr)
		d.actuatorCaps = d.actuatorCaps.Union(attr.ActuatorType)
		d.linears = append(d.linears, a)
	}
	for i, attr := range msgs.RotateCmd {
		a := newRotatorActuator(d, uint32(i), attr)
		d.actuatorCaps = d.actuatorCaps.Union(attr.ActuatorType)
		d.rotators = append(d.rotators, a)
	}
	for i, attr := range msgs.SensorReadCmd {
		s := newSensor(d, uint32(i), attr)
		d.sensorCaps = d.sensorCaps.Union(attr.SensorType)
		d.sensors = append(d.sensors, s)
	}

	return d
}

// Index returns the server-assigned device index.
func (d *Device) Index() uint32 { return d.info.DeviceIndex }

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// DisplayName returns the user-facing name, falling back to Name.
func (d *Device) DisplayName() string { return d.displayName }

// MessageGap returns the minimum spacing between messages to the device.
func (d *Device) MessageGap() time.Duration { return d.gap }

// Info returns the descriptor the device was built from.
func (d *Device) Info() wire.DeviceInfo { return d.info }

// ActuatorCapabilities returns the union of all actuator types.
func (d *Device) ActuatorCapabilities() wire.ActuatorType { return d.actuatorCaps }

// SensorCapabilities returns the union of all sensor types.
func (d *Device) SensorCapabilities() wire.SensorType { return d.sensorCaps }

// Scalars returns the scalar actuators in index order.
func (d *Device) Scalars() []*ScalarActuator { return d.scalars }

// Linears returns the linear actuators in index order.
func (d *Device) Linears() []*LinearActuator { return d.linears }

// Rotators returns the rotary actuators in index order.
func (d *Device) Rotators() []*RotatorActuator { return d.rotators }

// Sensors returns the sensors in index order.
func (d *Device) Sensors() []*Sensor { return d.sensors }

// Connected reports whether the device is still attached.
func (d *Device) Connected() bool { return d.connected.Load() }

// MarkDisconnected detaches the device. Later sends fail with
// ErrDisconnected.
func (d *Device) MarkDisconnected() {
	if d.connected.Swap(false) {
		d.logger.Debug("device disconnected")
	}
}

// NextSendAt returns the device's next-allowed-send time.
func (d *Device) NextSendAt() time.Time { return d.pacer.NextAt() }

// Send waits for the device's pacing slot and sends msg. A nil reply
// expects Ok. Cancellation while waiting returns ctx.Err() and sends
// nothing.
func (d *Device) Send(ctx context.Context, msg wire.DeviceMessage, reply wire.Message) error {
	if !d.Connected() {
		return ErrDisconnected
	}
	if err := d.pacer.reserve(ctx, d.gap); err != nil {
		return err
	}
	return d.roundtrip(ctx, msg, reply)
}

// SendImmediate sends msg without waiting for pacing. It still advances
// the device's next-allowed-send time.
func (d *Device) SendImmediate(ctx context.Context, msg wire.DeviceMessage, reply wire.Message) error {
	if !d.Connected() {
		return ErrDisconnected
	}
	d.pacer.advance(d.gap)
	return d.roundtrip(ctx, msg, reply)
}

func (d *Device) roundtrip(ctx context.Context, msg wire.DeviceMessage, reply wire.Message) error {
	msg.SetDevice(d.Index())
	if reply == nil {
		reply = &wire.Ok{}
	}
	if err := d.sender.Roundtrip(ctx, msg, reply); err != nil {
		return fmt.Errorf("%s to %s: %w", wire.NameOf(msg), d.displayName, err)
	}
	return nil
}

// Scalar sets every scalar actuator whose type contains mask to value,
// quantized per actuator, in one paced command. It does nothing if the
// device has no such actuator.
func (d *Device) Scalar(ctx context.Context, mask wire.ActuatorType, value float64) error {
	if !d.actuatorCaps.Contains(mask) {
		return nil
	}

	cmd := &wire.ScalarCmd{}
	var targets []*ScalarActuator
	for _, a := range d.scalars {
		if !a.Type().Contains(mask) {
			continue
		}
		q := a.Quantize(value)
		a.logger.Info("setting scalar", "type", a.Type().String(), "percent", q*100)
		cmd.Scalars = append(cmd.Scalars, wire.Scalar{Index: a.Index(), Scalar: q, ActuatorType: a.Type()})
		targets = append(targets, a)
	}
	if len(cmd.Scalars) == 0 {
		return nil
	}

	if err := d.Send(ctx, cmd, nil); err != nil {
		return err
	}
	for i, a := range targets {
		a.store(cmd.Scalars[i].Scalar)
	}
	return nil
}

// Linear moves every linear actuator to position over duration in one
// paced command. It does nothing if the device has no linear actuator.
func (d *Device) Linear(ctx context.Context, duration time.Duration, position float64) error {
	if len(d.linears) == 0 {
		return nil
	}

	cmd := &wire.LinearCmd{}
	for _, a := range d.linears {
		q := a.Quantize(position)
		a.logger.Info("moving linear", "position", q, "duration", duration)
		cmd.Vectors = append(cmd.Vectors, wire.Vector{Index: a.Index(), Duration: millis(duration), Position: q})
	}

	if err := d.Send(ctx, cmd, nil); err != nil {
		return err
	}
	for i, a := range d.linears {
		a.store(cmd.Vectors[i].Position, duration)
	}
	return nil
}

// Rotate sets every rotator to speed and direction in one paced command.
// It does nothing if the device has no rotator.
func (d *Device) Rotate(ctx context.Context, speed float64, clockwise bool) error {
	if len(d.rotators) == 0 {
		return nil
	}

	cmd := &wire.RotateCmd{}
	for _, a := range d.rotators {
		q := a.Quantize(speed)
		a.logger.Info("setting rotation", "speed", q, "clockwise", clockwise)
		cmd.Rotations = append(cmd.Rotations, wire.Rotation{Index: a.Index(), Speed: q, Clockwise: clockwise})
	}

	if err := d.Send(ctx, cmd, nil); err != nil {
		return err
	}
	for i, a := range d.rotators {
		a.store(cmd.Rotations[i].Speed, clockwise)
	}
	return nil
}

// Stop halts every actuator on the device immediately.
func (d *Device) Stop(ctx context.Context) error {
	d.logger.Info("stopping")
	return d.SendImmediate(ctx, &wire.StopDeviceCmd{}, nil)
}

// BroadcastSensorData routes a reading to the sensors matching its type
// and index.
func (d *Device) BroadcastSensorData(reading *wire.SensorReading) {
	for _, s := range d.sensors {
		if s.Type() != reading.SensorType || s.Index() != reading.SensorIndex {
			continue
		}
		if err := s.Update(reading.Data); err != nil {
			d.logger.Warn("dropping sensor reading", "sensor", s.Name(), "error", err)
		}
	}
}

// ScalarBuilder starts a batched scalar command.
func (d *Device) ScalarBuilder() *ScalarBuilder {
	return &ScalarBuilder{builder: builder{device: d}}
}

// LinearBuilder starts a batched linear command.
func (d *Device) LinearBuilder() *LinearBuilder {
	return &LinearBuilder{builder: builder{device: d}}
}

// RotatorBuilder starts a batched rotate command.
func (d *Device) RotatorBuilder() *RotatorBuilder {
	return &RotatorBuilder{builder: builder{device: d}}
}

// String returns the display name and index.
func (d *Device) String() string {
	return fmt.Sprintf("%s (#%d)", d.displayName, d.Index())
}

func millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Millisecond)
}
