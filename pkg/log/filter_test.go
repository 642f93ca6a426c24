package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatch(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dev := uint32(1)
	otherDev := uint32(2)
	in := DirectionIn
	wire := LayerWire
	state := CategoryState
	later := base.Add(time.Second)

	event := Event{
		Timestamp:    base,
		ConnectionID: "conn-a",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		DeviceIndex:  &dev,
		Message:      &MessageEvent{Type: MessageTypeEvent, Name: "SensorReading"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"connection", Filter{ConnectionID: "conn-a"}, true},
		{"other connection", Filter{ConnectionID: "conn-b"}, false},
		{"direction and layer", Filter{Direction: &in, Layer: &wire}, true},
		{"category", Filter{Category: &state}, false},
		{"start inclusive", Filter{TimeStart: &base}, true},
		{"end exclusive", Filter{TimeEnd: &base}, false},
		{"before end", Filter{TimeEnd: &later}, true},
		{"after start", Filter{TimeStart: &later}, false},
		{"device", Filter{DeviceIndex: &dev}, true},
		{"other device", Filter{DeviceIndex: &otherDev}, false},
		{"message name", Filter{MessageName: "SensorReading"}, true},
		{"other message name", Filter{MessageName: "Ok"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(event))
		})
	}
}

func TestFilterFieldsRequirePayload(t *testing.T) {
	dev := uint32(0)
	bare := Event{Layer: LayerClient, Category: CategoryState}

	assert.False(t, Filter{DeviceIndex: &dev}.Match(bare))
	assert.False(t, Filter{MessageName: "Ok"}.Match(bare))
}
