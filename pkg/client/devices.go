package client

import (
	"context"
	"slices"

	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Device returns the attached device with the given index, or nil.
func (c *Conn) Device(index uint32) *device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[index]
}

// Devices returns the attached devices sorted by index.
func (c *Conn) Devices() []*device.Device {
	c.mu.RLock()
	list := make([]*device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		list = append(list, d)
	}
	c.mu.RUnlock()

	sortByIndex(list)
	return list
}

// RefreshDevices replaces the device table with the server's device list.
// Devices no longer listed are detached, new ones attached. Devices listed
// before and after get a fresh instance without notifications; the old
// instance is marked disconnected.
func (c *Conn) RefreshDevices(ctx context.Context) error {
	list := &wire.DeviceList{}
	if err := c.Roundtrip(ctx, &wire.RequestDeviceList{}, list); err != nil {
		return err
	}

	fresh := make(map[uint32]*device.Device, len(list.Devices))
	for _, info := range list.Devices {
		fresh[info.DeviceIndex] = device.New(info, c, c.logger)
	}

	c.mu.Lock()
	old := c.devices
	c.devices = fresh
	c.metrics.devices.Set(float64(len(fresh)))
	c.mu.Unlock()

	var removed, added []*device.Device
	for index, d := range old {
		d.MarkDisconnected()
		if _, ok := fresh[index]; !ok {
			removed = append(removed, d)
		}
	}
	for index, d := range fresh {
		if _, ok := old[index]; !ok {
			added = append(added, d)
		}
	}
	sortByIndex(removed)
	sortByIndex(added)

	for _, d := range removed {
		c.logger.Info("device detached", "device", d.DisplayName(), "index", d.Index())
		c.captureDevice(d.Index(), "DETACHED")
		c.post(func() { c.onDeviceRemoved.Emit(d) })
	}
	for _, d := range added {
		c.logger.Info("device attached", "device", d.DisplayName(), "index", d.Index())
		c.captureDevice(d.Index(), "ATTACHED")
		c.post(func() { c.onDeviceAdded.Emit(d) })
	}
	c.logger.Debug("refreshed devices", "count", len(fresh), "removed", len(removed), "added", len(added))
	return nil
}

// ReplaceDevice puts replacement in the table slot of old. If they differ,
// old is marked disconnected.
func (c *Conn) ReplaceDevice(old, replacement *device.Device) {
	c.mu.Lock()
	c.devices[old.Index()] = replacement
	c.metrics.devices.Set(float64(len(c.devices)))
	c.mu.Unlock()

	if old != replacement {
		old.MarkDisconnected()
	}
}

func sortByIndex(list []*device.Device) {
	slices.SortFunc(list, func(a, b *device.Device) int {
		switch {
		case a.Index() < b.Index():
			return -1
		case a.Index() > b.Index():
			return 1
		default:
			return 0
		}
	})
}
