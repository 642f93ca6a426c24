package client

import (
	"time"

	"github.com/buttbee/buttbee-go/pkg/log"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// capture stamps and forwards a protocol event if capture is enabled.
func (c *Conn) capture(e log.Event) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	e.Timestamp = time.Now()
	e.ConnectionID = c.connID
	e.ServerURL = c.cfg.URL
	c.cfg.ProtocolLogger.Log(e)
}

func (c *Conn) captureMessage(dir log.Direction, typ log.MessageType, name string, id uint32, msg wire.Message) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	body, _ := wire.Marshal(msg)
	e := log.Event{
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      typ,
			MessageID: id,
			Name:      name,
			Body:      body,
		},
	}
	if dm, ok := msg.(wire.DeviceMessage); ok {
		index := dm.Device()
		e.DeviceIndex = &index
	}
	c.capture(e)
}

// captureEnvelope records an inbound envelope. Replies carry the round trip
// of their request when it is still pending.
func (c *Conn) captureEnvelope(env wire.Envelope) {
	if c.cfg.ProtocolLogger == nil {
		return
	}

	ev := &log.MessageEvent{
		Type:      log.MessageTypeEvent,
		MessageID: env.ID,
		Name:      env.Name,
		Body:      env.Body,
	}
	if env.ID != wire.EventID {
		ev.Type = log.MessageTypeResponse
		if v, ok := c.sentAt.Load(env.ID); ok {
			rt := time.Since(v.(time.Time))
			ev.RoundTrip = &rt
		}
	}
	if env.Name == "Error" {
		var e wire.Error
		if err := wire.Unmarshal(env.Body, &e); err == nil {
			ev.ErrorCode = &e.ErrorCode
		}
	}

	c.capture(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message:   ev,
	})
}

func (c *Conn) captureDevice(index uint32, state string) {
	c.capture(log.Event{
		Layer:       log.LayerClient,
		Category:    log.CategoryState,
		DeviceIndex: &index,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			NewState: state,
		},
	})
}

func (c *Conn) captureScanning(state string) {
	c.capture(log.Event{
		Layer:    log.LayerClient,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityScanning,
			NewState: state,
		},
	})
}

func (c *Conn) captureError(err error, context string) {
	c.capture(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: context,
		},
	})
}
