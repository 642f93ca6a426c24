package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// DefaultCommandTimeout bounds a device command triggered over MQTT.
const DefaultCommandTimeout = 5 * time.Second

// Source is a live device table, typically a *client.Conn.
type Source interface {
	Device(index uint32) *device.Device
	Devices() []*device.Device
	OnDeviceAdded(fn func(*device.Device)) (remove func())
	OnDeviceRemoved(fn func(*device.Device)) (remove func())
	Done() <-chan struct{}
}

// Config configures a Bridge.
type Config struct {
	TopicPrefix    string
	QoS            byte
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// ScalarCommand is the payload of a scalar/set command. With Index set
// only that scalar actuator is driven; otherwise every actuator matching
// Actuator is.
type ScalarCommand struct {
	Actuator string  `json:"actuator"`
	Index    *uint32 `json:"index,omitempty"`
	Value    float64 `json:"value"`
}

// DeviceDescriptor is the retained payload of a device topic.
type DeviceDescriptor struct {
	Index        uint32       `json:"index"`
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	MessageGapMs int64        `json:"message_gap_ms"`
	Actuators    []Actuator   `json:"actuators"`
	Sensors      []SensorDesc `json:"sensors"`
}

// Actuator describes one actuator in a DeviceDescriptor.
type Actuator struct {
	Kind  string `json:"kind"`
	Index uint32 `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Steps uint32 `json:"steps"`
}

// SensorDesc describes one sensor in a DeviceDescriptor.
type SensorDesc struct {
	Index  uint32     `json:"index"`
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Ranges [][2]int32 `json:"ranges"`
}

// SensorPayload is published on a sensor topic.
type SensorPayload struct {
	Values  []int32 `json:"values"`
	Percent *int    `json:"percent,omitempty"`
}

// Bridge publishes the devices of one Source at a time and forwards
// commands to them.
type Bridge struct {
	pub     Publisher
	topics  Topics
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	source   Source
	unhook   []func()
	attached map[uint32][]func()
}

// New creates a bridge publishing through pub.
func New(pub Publisher, cfg Config) *Bridge {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		pub:      pub,
		topics:   Topics{Prefix: cfg.TopicPrefix},
		qos:      cfg.QoS,
		timeout:  cfg.CommandTimeout,
		logger:   logger.With("component", "bridge"),
		attached: make(map[uint32][]func()),
	}
}

// Start subscribes to the command topics.
func (b *Bridge) Start() error {
	if err := b.pub.Subscribe(b.topics.ScalarSetFilter(), b.qos, b.handleScalar); err != nil {
		return err
	}
	return b.pub.Subscribe(b.topics.StopFilter(), b.qos, b.handleStop)
}

// Attach starts mirroring src, replacing any previous source. The source
// is detached automatically when it is done.
func (b *Bridge) Attach(src Source) {
	b.Detach()

	b.mu.Lock()
	b.source = src
	b.unhook = []func(){
		src.OnDeviceAdded(b.deviceAdded),
		src.OnDeviceRemoved(b.deviceRemoved),
	}
	b.mu.Unlock()

	for _, d := range src.Devices() {
		b.deviceAdded(d)
	}
	b.logger.Info("attached", "devices", len(src.Devices()))

	go func() {
		<-src.Done()
		b.mu.Lock()
		current := b.source == src
		b.mu.Unlock()
		if current {
			b.Detach()
		}
	}()
}

// Detach stops mirroring the current source and clears its retained
// device topics.
func (b *Bridge) Detach() {
	b.mu.Lock()
	if b.source == nil {
		b.mu.Unlock()
		return
	}
	unhook := b.unhook
	attached := b.attached
	b.source = nil
	b.unhook = nil
	b.attached = make(map[uint32][]func())
	b.mu.Unlock()

	for _, fn := range unhook {
		fn()
	}
	for index, removers := range attached {
		for _, fn := range removers {
			fn()
		}
		b.publish(b.topics.Device(index), true, nil)
	}
	b.logger.Info("detached", "devices", len(attached))
}

// Close detaches and drops the command subscriptions.
func (b *Bridge) Close() error {
	b.Detach()
	return b.pub.Unsubscribe(b.topics.ScalarSetFilter(), b.topics.StopFilter())
}

func (b *Bridge) deviceAdded(d *device.Device) {
	var removers []func()
	for _, s := range d.Sensors() {
		removers = append(removers, s.OnValueChanged(func(ev device.SensorEvent) {
			b.publishSensor(d.Index(), ev)
		}))
	}

	b.mu.Lock()
	old := b.attached[d.Index()]
	b.attached[d.Index()] = removers
	b.mu.Unlock()
	for _, fn := range old {
		fn()
	}

	data, err := json.Marshal(Describe(d))
	if err != nil {
		b.logger.Error("encoding device descriptor", "device", d.DisplayName(), "error", err)
		return
	}
	b.publish(b.topics.Device(d.Index()), true, data)
}

func (b *Bridge) deviceRemoved(d *device.Device) {
	b.mu.Lock()
	removers, ok := b.attached[d.Index()]
	delete(b.attached, d.Index())
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range removers {
		fn()
	}
	b.publish(b.topics.Device(d.Index()), true, nil)
}

func (b *Bridge) publishSensor(index uint32, ev device.SensorEvent) {
	payload := SensorPayload{Values: ev.Values}
	if pct, ok := ev.Sensor.Percent(0); ok {
		payload.Percent = &pct
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encoding sensor reading", "error", err)
		return
	}
	b.publish(b.topics.Sensor(index, ev.Sensor.Index()), false, data)
}

func (b *Bridge) publish(topic string, retained bool, payload []byte) {
	if err := b.pub.Publish(topic, b.qos, retained, payload); err != nil {
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// device resolves the device a command topic addresses.
func (b *Bridge) device(topic string) (*device.Device, error) {
	index, err := b.topics.DeviceIndex(topic)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	src := b.source
	b.mu.Unlock()
	if src == nil {
		return nil, fmt.Errorf("no server connection")
	}
	d := src.Device(index)
	if d == nil {
		return nil, fmt.Errorf("no device %d", index)
	}
	return d, nil
}

func (b *Bridge) handleScalar(topic string, payload []byte) {
	d, err := b.device(topic)
	if err != nil {
		b.logger.Warn("dropping scalar command", "topic", topic, "error", err)
		return
	}
	var cmd ScalarCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("dropping scalar command", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if cmd.Index != nil {
		scalars := d.Scalars()
		if int(*cmd.Index) >= len(scalars) {
			b.logger.Warn("dropping scalar command", "topic", topic, "error", device.ErrActuatorNotFound)
			return
		}
		err = scalars[*cmd.Index].Set(ctx, cmd.Value)
	} else {
		mask := wire.ParseActuatorType(cmd.Actuator)
		if mask == 0 {
			b.logger.Warn("dropping scalar command", "topic", topic, "actuator", cmd.Actuator)
			return
		}
		err = d.Scalar(ctx, mask, cmd.Value)
	}
	if err != nil {
		b.logger.Warn("scalar command failed", "device", d.DisplayName(), "error", err)
	}
}

func (b *Bridge) handleStop(topic string, _ []byte) {
	d, err := b.device(topic)
	if err != nil {
		b.logger.Warn("dropping stop command", "topic", topic, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		b.logger.Warn("stop command failed", "device", d.DisplayName(), "error", err)
	}
}

// Describe builds the descriptor published for d.
func Describe(d *device.Device) DeviceDescriptor {
	desc := DeviceDescriptor{
		Index:        d.Index(),
		Name:         d.Name(),
		DisplayName:  d.DisplayName(),
		MessageGapMs: d.MessageGap().Milliseconds(),
		Actuators:    []Actuator{},
		Sensors:      []SensorDesc{},
	}
	for _, a := range d.Scalars() {
		desc.Actuators = append(desc.Actuators, Actuator{
			Kind: "scalar", Index: a.Index(), Name: a.Name(), Type: a.Type().String(), Steps: a.StepCount(),
		})
	}
	for _, a := range d.Linears() {
		desc.Actuators = append(desc.Actuators, Actuator{
			Kind: "linear", Index: a.Index(), Name: a.Name(), Type: wire.ActuatorPosition.String(), Steps: a.StepCount(),
		})
	}
	for _, a := range d.Rotators() {
		desc.Actuators = append(desc.Actuators, Actuator{
			Kind: "rotator", Index: a.Index(), Name: a.Name(), Type: wire.ActuatorRotate.String(), Steps: a.StepCount(),
		})
	}
	for _, s := range d.Sensors() {
		desc.Sensors = append(desc.Sensors, SensorDesc{
			Index: s.Index(), Name: s.Name(), Type: s.Type().String(), Ranges: s.Ranges(),
		})
	}
	return desc
}
