package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Attribute is the part shared by actuators and sensors: a dense index
// within its list, an owning device and a display name.
type Attribute struct {
	index  uint32
	name   string
	device *Device
	desc   wire.DeviceAttribute
}

func newAttribute(d *Device, index uint32, desc wire.DeviceAttribute, fallback string) Attribute {
	name := desc.FeatureDescriptor
	if name == "" {
		name = fallback
	}
	return Attribute{index: index, name: name, device: d, desc: desc}
}

// Index returns the attribute index within its list.
func (a *Attribute) Index() uint32 { return a.index }

// Name returns the feature descriptor or a synthesized name.
func (a *Attribute) Name() string { return a.name }

// Device returns the owning device.
func (a *Attribute) Device() *Device { return a.device }

// Descriptor returns the raw server descriptor.
func (a *Attribute) Descriptor() wire.DeviceAttribute { return a.desc }

// actuator adds quantization and per-actuator pacing.
type actuator struct {
	Attribute
	steps  uint32
	pacer  pacer
	logger *slog.Logger
	mu     sync.Mutex
}

func (a *actuator) init(d *Device, index uint32, desc wire.DeviceAttribute, fallback string) {
	a.Attribute = newAttribute(d, index, desc, fallback)
	a.steps = desc.StepCount
	a.logger = d.logger.With("actuator", a.name)
}

// StepCount returns the number of discrete steps the actuator supports.
func (a *actuator) StepCount() uint32 { return a.steps }

// Quantize snaps v to the actuator's step grid.
func (a *actuator) Quantize(v float64) float64 { return wire.Quantize(v, a.steps) }

// NextSendAt returns the actuator's next-allowed-send time.
func (a *actuator) NextSendAt() time.Time { return a.pacer.NextAt() }

// ScalarActuator is a graduated actuator such as a vibrator.
type ScalarActuator struct {
	actuator
	typ   wire.ActuatorType
	value float64
}

func newScalarActuator(d *Device, index uint32, desc wire.DeviceAttribute) *ScalarActuator {
	a := &ScalarActuator{typ: desc.ActuatorType}
	a.init(d, index, desc, fmt.Sprintf("%s Actuator %d", desc.ActuatorType, index))
	return a
}

// Type returns the actuator type.
func (a *ScalarActuator) Type() wire.ActuatorType { return a.typ }

// Value returns the last value sent.
func (a *ScalarActuator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *ScalarActuator) store(v float64) {
	a.mu.Lock()
	a.value = v
	a.mu.Unlock()
}

// Set waits for the actuator's pacing slot and sets it to value, quantized.
func (a *ScalarActuator) Set(ctx context.Context, value float64) error {
	if err := a.pacer.reserve(ctx, a.device.gap); err != nil {
		return err
	}

	q := a.Quantize(value)
	a.store(q)
	a.logger.Debug("setting scalar", "value", q)

	return a.device.SendImmediate(ctx, &wire.ScalarCmd{
		Scalars: []wire.Scalar{{Index: a.index, Scalar: q, ActuatorType: a.typ}},
	}, nil)
}

// LinearActuator moves to a position over a duration.
type LinearActuator struct {
	actuator
	position float64
	duration time.Duration
}

func newLinearActuator(d *Device, index uint32, desc wire.DeviceAttribute) *LinearActuator {
	a := &LinearActuator{}
	a.init(d, index, desc, fmt.Sprintf("Linear Actuator %d", index))
	return a
}

// Position returns the last position sent.
func (a *LinearActuator) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Duration returns the duration of the last move.
func (a *LinearActuator) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

func (a *LinearActuator) store(position float64, duration time.Duration) {
	a.mu.Lock()
	a.position = position
	a.duration = duration
	a.mu.Unlock()
}

// Set waits for the actuator's pacing slot and moves it to position over
// duration.
func (a *LinearActuator) Set(ctx context.Context, position float64, duration time.Duration) error {
	if err := a.pacer.reserve(ctx, a.device.gap); err != nil {
		return err
	}

	q := a.Quantize(position)
	a.store(q, duration)
	a.logger.Debug("moving linear", "position", q, "duration", duration)

	return a.device.SendImmediate(ctx, &wire.LinearCmd{
		Vectors: []wire.Vector{{Index: a.index, Duration: millis(duration), Position: q}},
	}, nil)
}

// RotatorActuator spins at a speed in a direction.
type RotatorActuator struct {
	actuator
	speed     float64
	clockwise bool
}

func newRotatorActuator(d *Device, index uint32, desc wire.DeviceAttribute) *RotatorActuator {
	a := &RotatorActuator{}
	a.init(d, index, desc, fmt.Sprintf("Rotator Actuator %d", index))
	return a
}

// Speed returns the last speed sent.
func (a *RotatorActuator) Speed() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speed
}

// Clockwise returns the last direction sent.
func (a *RotatorActuator) Clockwise() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clockwise
}

func (a *RotatorActuator) store(speed float64, clockwise bool) {
	a.mu.Lock()
	a.speed = speed
	a.clockwise = clockwise
	a.mu.Unlock()
}

// Set waits for the actuator's pacing slot and sets speed and direction.
func (a *RotatorActuator) Set(ctx context.Context, speed float64, clockwise bool) error {
	if err := a.pacer.reserve(ctx, a.device.gap); err != nil {
		return err
	}

	q := a.Quantize(speed)
	a.store(q, clockwise)
	a.logger.Debug("setting rotation", "speed", q, "clockwise", clockwise)

	return a.device.SendImmediate(ctx, &wire.RotateCmd{
		Rotations: []wire.Rotation{{Index: a.index, Speed: q, Clockwise: clockwise}},
	}, nil)
}
