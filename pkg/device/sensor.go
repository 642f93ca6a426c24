package device

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/buttbee/buttbee-go/internal/notify"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Unset is the cached value of a sensor component that has not been read.
const Unset int32 = math.MinInt32

// SensorEvent is delivered to value-changed observers.
type SensorEvent struct {
	Sensor *Sensor
	Values []int32
}

// Sensor is one readable input on a device.
type Sensor struct {
	Attribute
	typ    wire.SensorType
	ranges [][2]int32
	logger *slog.Logger

	mu     sync.Mutex
	values []int32

	// pending holds change events in cache write order. One goroutine at a
	// time drains it, flagged by delivering.
	pending    []SensorEvent
	delivering bool

	observers notify.Registry[SensorEvent]
}

func newSensor(d *Device, index uint32, desc wire.DeviceAttribute) *Sensor {
	s := &Sensor{
		Attribute: newAttribute(d, index, desc, fmt.Sprintf("Sensor %d", index)),
		typ:       desc.SensorType,
		ranges:    slices.Clone(desc.SensorRange),
	}
	s.logger = d.logger.With("sensor", s.name)
	s.values = make([]int32, len(s.ranges))
	for i := range s.values {
		s.values[i] = Unset
	}
	return s
}

// Type returns the sensor type.
func (s *Sensor) Type() wire.SensorType { return s.typ }

// Ranges returns the inclusive [min, max] range of each component.
func (s *Sensor) Ranges() [][2]int32 { return slices.Clone(s.ranges) }

// Values returns a copy of the last reading. Components never read hold
// Unset.
func (s *Sensor) Values() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.values)
}

// OnValueChanged registers fn for readings that change at least one
// component. The returned function removes it.
func (s *Sensor) OnValueChanged(fn func(SensorEvent)) (remove func()) {
	return s.observers.Add(fn)
}

// Update stores a reading. A reading that changes at least one component
// is delivered to observers in the order the cache was written, whichever
// goroutine the readings arrive on. Observers normally run on the calling
// goroutine; when another delivery is in progress, including one that
// called Update from inside an observer, the event is queued behind it and
// Update returns without waiting.
func (s *Sensor) Update(data []int32) error {
	s.mu.Lock()
	if len(data) != len(s.values) {
		n := len(s.values)
		s.mu.Unlock()
		return fmt.Errorf("%w: %s got %d values, want %d", ErrSensorDataLength, s.name, len(data), n)
	}
	changed := false
	for i, v := range data {
		if s.values[i] != v {
			s.values[i] = v
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.pending = append(s.pending, SensorEvent{Sensor: s, Values: slices.Clone(data)})
	if s.delivering {
		s.mu.Unlock()
		return nil
	}
	s.delivering = true
	s.mu.Unlock()

	s.drain()
	return nil
}

// drain delivers pending events until none are left. A panicking observer
// releases delivery so later readings are not stuck behind it.
func (s *Sensor) drain() {
	defer func() {
		s.mu.Lock()
		s.delivering = false
		s.mu.Unlock()
	}()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.observers.Emit(ev)
	}
}

// Poll reads the sensor once, caches the reading and returns it.
func (s *Sensor) Poll(ctx context.Context) ([]int32, error) {
	reading := &wire.SensorReading{}
	err := s.device.SendImmediate(ctx, &wire.SensorReadCmd{SensorIndex: s.index, SensorType: s.typ}, reading)
	if err != nil {
		return nil, err
	}
	if err := s.Update(reading.Data); err != nil {
		return nil, err
	}
	return reading.Data, nil
}

// Subscribe asks the server to push readings as they change.
func (s *Sensor) Subscribe(ctx context.Context) error {
	s.logger.Debug("subscribing")
	return s.device.SendImmediate(ctx, &wire.SensorSubscribeCmd{SensorIndex: s.index, SensorType: s.typ}, nil)
}

// Unsubscribe stops pushed readings.
func (s *Sensor) Unsubscribe(ctx context.Context) error {
	s.logger.Debug("unsubscribing")
	return s.device.SendImmediate(ctx, &wire.SensorUnsubscribeCmd{SensorIndex: s.index, SensorType: s.typ}, nil)
}

// Percent returns component i as a rounded percentage of its range maximum,
// as battery sensors report. ok is false if the component is unknown, unread
// or its maximum is not positive.
func (s *Sensor) Percent(i int) (pct int, ok bool) {
	if i < 0 || i >= len(s.ranges) || s.ranges[i][1] <= 0 {
		return 0, false
	}
	s.mu.Lock()
	v := s.values[i]
	s.mu.Unlock()
	if v == Unset {
		return 0, false
	}
	return int(math.Round(float64(v) / float64(s.ranges[i][1]) * 100)), true
}
