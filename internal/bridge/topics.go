package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the bridge availability topic.
func (t Topics) Status() string { return t.Prefix + "/status" }

// Device is the retained descriptor topic of a device.
func (t Topics) Device(index uint32) string {
	return fmt.Sprintf("%s/devices/%d", t.Prefix, index)
}

// Sensor is the reading topic of one sensor.
func (t Topics) Sensor(device, sensor uint32) string {
	return fmt.Sprintf("%s/devices/%d/sensors/%d", t.Prefix, device, sensor)
}

// ScalarSet is the scalar command topic of a device.
func (t Topics) ScalarSet(index uint32) string {
	return fmt.Sprintf("%s/devices/%d/scalar/set", t.Prefix, index)
}

// Stop is the stop command topic of a device.
func (t Topics) Stop(index uint32) string {
	return fmt.Sprintf("%s/devices/%d/stop", t.Prefix, index)
}

// ScalarSetFilter matches the scalar command topic of every device.
func (t Topics) ScalarSetFilter() string { return t.Prefix + "/devices/+/scalar/set" }

// StopFilter matches the stop command topic of every device.
func (t Topics) StopFilter() string { return t.Prefix + "/devices/+/stop" }

// DeviceIndex extracts the device index from a topic below
// <prefix>/devices/<index>.
func (t Topics) DeviceIndex(topic string) (uint32, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/devices/")
	if !ok {
		return 0, fmt.Errorf("topic %q is not a device topic", topic)
	}
	seg, _, _ := strings.Cut(rest, "/")
	n, err := strconv.ParseUint(seg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("topic %q: bad device index %q", topic, seg)
	}
	return uint32(n), nil
}
