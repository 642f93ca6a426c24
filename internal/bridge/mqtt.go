package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/buttbee/buttbee-go/internal/config"
)

const defaultMQTTTimeout = 10 * time.Second

// ErrMQTTTimeout is returned when the broker does not acknowledge in time.
var ErrMQTTTimeout = errors.New("mqtt operation timed out")

// Handler receives messages for a subscription.
type Handler func(topic string, payload []byte)

// Publisher is the MQTT surface the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(filter string, qos byte, handler Handler) error
	Unsubscribe(filters ...string) error
}

type subscription struct {
	qos     byte
	handler Handler
}

// MQTTClient is a Publisher backed by a paho client. Subscriptions are
// restored after the client reconnects.
type MQTTClient struct {
	client pahomqtt.Client
	logger *slog.Logger
	status string

	mu   sync.Mutex
	subs map[string]subscription
}

var _ Publisher = (*MQTTClient)(nil)

// DialMQTT connects to the broker in cfg. The broker keeps a retained
// "offline" on <prefix>/status as will; "online" is published on every
// (re)connect.
func DialMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &MQTTClient{
		logger: logger.With("component", "mqtt"),
		status: Topics{Prefix: cfg.TopicPrefix}.Status(),
		subs:   make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(defaultMQTTTimeout).
		SetWill(c.status, "offline", byte(cfg.QoS), true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.logger.Info("mqtt connected", "broker", cfg.Broker)
		pc.Publish(c.status, byte(cfg.QoS), true, "online")
		c.restore(pc)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func wait(t pahomqtt.Token) error {
	if !t.WaitTimeout(defaultMQTTTimeout) {
		return ErrMQTTTimeout
	}
	return t.Error()
}

func (c *MQTTClient) restore(pc pahomqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for filter, sub := range c.subs {
		pc.Subscribe(filter, sub.qos, wrap(sub.handler))
	}
}

func wrap(h Handler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		h(m.Topic(), m.Payload())
	}
}

// Publish sends payload to topic.
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload))
}

// Subscribe registers handler for filter.
func (c *MQTTClient) Subscribe(filter string, qos byte, handler Handler) error {
	if err := wait(c.client.Subscribe(filter, qos, wrap(handler))); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	c.logger.Debug("mqtt subscribed", "filter", filter)
	return nil
}

// Unsubscribe removes the given subscriptions.
func (c *MQTTClient) Unsubscribe(filters ...string) error {
	c.mu.Lock()
	for _, f := range filters {
		delete(c.subs, f)
	}
	c.mu.Unlock()
	return wait(c.client.Unsubscribe(filters...))
}

// Close publishes "offline" and disconnects.
func (c *MQTTClient) Close() error {
	if c.client.IsConnected() {
		if err := c.Publish(c.status, 1, true, []byte("offline")); err != nil {
			c.logger.Warn("publishing offline status", "error", err)
		}
	}
	c.client.Disconnect(250)
	return nil
}
