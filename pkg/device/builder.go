package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buttbee/buttbee-go/pkg/wire"
)

// builder is the state shared by the command builders: the owning device,
// the latest next-allowed-send time of any added actuator and the first
// lookup failure.
type builder struct {
	device *Device
	nextAt time.Time
	err    error
}

func (b *builder) fail(what string) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s on %s", ErrActuatorNotFound, what, b.device.displayName)
	}
}

func (b *builder) include(at time.Time) {
	if at.After(b.nextAt) {
		b.nextAt = at
	}
}

// Err returns the first lookup failure, if any.
func (b *builder) Err() error { return b.err }

// wait sleeps until every included actuator may be sent to.
func (b *builder) wait(ctx context.Context) error {
	return sleepUntil(ctx, b.nextAt)
}

func findByName[A interface{ Name() string }](list []A, name string) (A, bool) {
	for _, a := range list {
		if strings.EqualFold(a.Name(), name) {
			return a, true
		}
	}
	var zero A
	return zero, false
}

// ScalarBuilder batches scalar values for several actuators into one
// ScalarCmd.
type ScalarBuilder struct {
	builder
	cmd     wire.ScalarCmd
	targets []*ScalarActuator
}

// ScalarNode binds one scalar actuator to its pending value.
type ScalarNode struct {
	b     *ScalarBuilder
	a     *ScalarActuator
	value float64
}

// Add selects the scalar actuator named name, ignoring case.
func (b *ScalarBuilder) Add(name string) *ScalarNode {
	a, ok := findByName(b.device.scalars, name)
	if !ok {
		b.fail(fmt.Sprintf("scalar %q", name))
	}
	return &ScalarNode{b: b, a: a}
}

// AddIndex selects the scalar actuator at index i.
func (b *ScalarBuilder) AddIndex(i uint32) *ScalarNode {
	if int(i) >= len(b.device.scalars) {
		b.fail(fmt.Sprintf("scalar index %d", i))
		return &ScalarNode{b: b}
	}
	return &ScalarNode{b: b, a: b.device.scalars[i]}
}

// Value sets the pending value, quantized by the actuator's step count.
func (n *ScalarNode) Value(v float64) *ScalarNode {
	if n.a != nil {
		n.value = n.a.Quantize(v)
	}
	return n
}

// Finish adds the node to the command.
func (n *ScalarNode) Finish() *ScalarBuilder {
	if n.a == nil {
		return n.b
	}
	n.b.cmd.Scalars = append(n.b.cmd.Scalars, wire.Scalar{
		Index:        n.a.Index(),
		Scalar:       n.value,
		ActuatorType: n.a.Type(),
	})
	n.b.targets = append(n.b.targets, n.a)
	n.b.include(n.a.NextSendAt())
	return n.b
}

// Build returns the command, the earliest time it may be sent and the
// first lookup failure.
func (b *ScalarBuilder) Build() (*wire.ScalarCmd, time.Time, error) {
	if b.err != nil {
		return nil, b.nextAt, b.err
	}
	if len(b.cmd.Scalars) == 0 {
		return nil, b.nextAt, ErrEmptyCommand
	}
	cmd := b.cmd
	cmd.Scalars = append([]wire.Scalar(nil), b.cmd.Scalars...)
	return &cmd, b.nextAt, nil
}

// Send waits until every included actuator may be sent to, then sends the
// batch without further device pacing.
func (b *ScalarBuilder) Send(ctx context.Context) (*Device, error) {
	cmd, _, err := b.Build()
	if err != nil {
		return b.device, err
	}
	if err := b.wait(ctx); err != nil {
		return b.device, err
	}
	if err := b.device.SendImmediate(ctx, cmd, nil); err != nil {
		return b.device, err
	}
	for i, a := range b.targets {
		a.store(cmd.Scalars[i].Scalar)
	}
	return b.device, nil
}

// LinearBuilder batches moves for several linear actuators into one
// LinearCmd.
type LinearBuilder struct {
	builder
	cmd     wire.LinearCmd
	targets []*LinearActuator
}

// LinearNode binds one linear actuator to its pending move.
type LinearNode struct {
	b        *LinearBuilder
	a        *LinearActuator
	position float64
	duration time.Duration
}

// Add selects the linear actuator named name, ignoring case.
func (b *LinearBuilder) Add(name string) *LinearNode {
	a, ok := findByName(b.device.linears, name)
	if !ok {
		b.fail(fmt.Sprintf("linear %q", name))
	}
	return &LinearNode{b: b, a: a}
}

// AddIndex selects the linear actuator at index i.
func (b *LinearBuilder) AddIndex(i uint32) *LinearNode {
	if int(i) >= len(b.device.linears) {
		b.fail(fmt.Sprintf("linear index %d", i))
		return &LinearNode{b: b}
	}
	return &LinearNode{b: b, a: b.device.linears[i]}
}

// Position sets the target position, quantized by the actuator's step count.
func (n *LinearNode) Position(v float64) *LinearNode {
	if n.a != nil {
		n.position = n.a.Quantize(v)
	}
	return n
}

// Duration sets how long the move takes.
func (n *LinearNode) Duration(d time.Duration) *LinearNode {
	n.duration = d
	return n
}

// Finish adds the node to the command.
func (n *LinearNode) Finish() *LinearBuilder {
	if n.a == nil {
		return n.b
	}
	n.b.cmd.Vectors = append(n.b.cmd.Vectors, wire.Vector{
		Index:    n.a.Index(),
		Duration: millis(n.duration),
		Position: n.position,
	})
	n.b.targets = append(n.b.targets, n.a)
	n.b.include(n.a.NextSendAt())
	return n.b
}

// Build returns the command, the earliest time it may be sent and the
// first lookup failure.
func (b *LinearBuilder) Build() (*wire.LinearCmd, time.Time, error) {
	if b.err != nil {
		return nil, b.nextAt, b.err
	}
	if len(b.cmd.Vectors) == 0 {
		return nil, b.nextAt, ErrEmptyCommand
	}
	cmd := b.cmd
	cmd.Vectors = append([]wire.Vector(nil), b.cmd.Vectors...)
	return &cmd, b.nextAt, nil
}

// Send waits until every included actuator may be sent to, then sends the
// batch without further device pacing.
func (b *LinearBuilder) Send(ctx context.Context) (*Device, error) {
	cmd, _, err := b.Build()
	if err != nil {
		return b.device, err
	}
	if err := b.wait(ctx); err != nil {
		return b.device, err
	}
	if err := b.device.SendImmediate(ctx, cmd, nil); err != nil {
		return b.device, err
	}
	for i, a := range b.targets {
		v := cmd.Vectors[i]
		a.store(v.Position, time.Duration(v.Duration)*time.Millisecond)
	}
	return b.device, nil
}

// RotatorBuilder batches rotations for several rotators into one RotateCmd.
type RotatorBuilder struct {
	builder
	cmd     wire.RotateCmd
	targets []*RotatorActuator
}

// RotatorNode binds one rotator to its pending speed and direction.
type RotatorNode struct {
	b         *RotatorBuilder
	a         *RotatorActuator
	speed     float64
	clockwise bool
}

// Add selects the rotator named name, ignoring case.
func (b *RotatorBuilder) Add(name string) *RotatorNode {
	a, ok := findByName(b.device.rotators, name)
	if !ok {
		b.fail(fmt.Sprintf("rotator %q", name))
	}
	return &RotatorNode{b: b, a: a}
}

// AddIndex selects the rotator at index i.
func (b *RotatorBuilder) AddIndex(i uint32) *RotatorNode {
	if int(i) >= len(b.device.rotators) {
		b.fail(fmt.Sprintf("rotator index %d", i))
		return &RotatorNode{b: b}
	}
	return &RotatorNode{b: b, a: b.device.rotators[i]}
}

// Speed sets the pending speed, quantized by the actuator's step count.
func (n *RotatorNode) Speed(v float64) *RotatorNode {
	if n.a != nil {
		n.speed = n.a.Quantize(v)
	}
	return n
}

// Clockwise selects clockwise rotation.
func (n *RotatorNode) Clockwise() *RotatorNode {
	n.clockwise = true
	return n
}

// CounterClockwise selects counter-clockwise rotation. This is the default.
func (n *RotatorNode) CounterClockwise() *RotatorNode {
	n.clockwise = false
	return n
}

// Finish adds the node to the command.
func (n *RotatorNode) Finish() *RotatorBuilder {
	if n.a == nil {
		return n.b
	}
	n.b.cmd.Rotations = append(n.b.cmd.Rotations, wire.Rotation{
		Index:     n.a.Index(),
		Speed:     n.speed,
		Clockwise: n.clockwise,
	})
	n.b.targets = append(n.b.targets, n.a)
	n.b.include(n.a.NextSendAt())
	return n.b
}

// Build returns the command, the earliest time it may be sent and the
// first lookup failure.
func (b *RotatorBuilder) Build() (*wire.RotateCmd, time.Time, error) {
	if b.err != nil {
		return nil, b.nextAt, b.err
	}
	if len(b.cmd.Rotations) == 0 {
		return nil, b.nextAt, ErrEmptyCommand
	}
	cmd := b.cmd
	cmd.Rotations = append([]wire.Rotation(nil), b.cmd.Rotations...)
	return &cmd, b.nextAt, nil
}

// Send waits until every included rotator may be sent to, then sends the
// batch without further device pacing.
func (b *RotatorBuilder) Send(ctx context.Context) (*Device, error) {
	cmd, _, err := b.Build()
	if err != nil {
		return b.device, err
	}
	if err := b.wait(ctx); err != nil {
		return b.device, err
	}
	if err := b.device.SendImmediate(ctx, cmd, nil); err != nil {
		return b.device, err
	}
	for i, a := range b.targets {
		r := cmd.Rotations[i]
		a.store(r.Speed, r.Clockwise)
	}
	return b.device, nil
}
