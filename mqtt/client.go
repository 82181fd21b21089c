package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/AlexRomero01/Bridge-Server/config"
	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/metrics"
)

// Client wraps the paho MQTT client. The transport gives at-least-once
// delivery (QoS 1) with automatic reconnect; dedup of redelivery happens
// downstream in the window and the sinks.
type Client struct {
	client mqtt.Client
	config config.MQTTConfig
	// handler runs the decode stage; the message is acknowledged after it
	// returns, whether or not the payload was accepted.
	handler MessageHandler
}

// MessageHandler is the callback for inbound MQTT messages.
type MessageHandler func(topic string, payload []byte)

// newClient creates an MQTT client. Handler callbacks for different topics
// run concurrently; acknowledgments are issued manually after the decode
// stage so redelivery of a half-processed message stays possible.
func newClient(cfg config.MQTTConfig, handler MessageHandler) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("bridge-server-%s", uuid.NewString()[:8])
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetAutoAckDisabled(true)
	opts.SetCleanSession(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		metrics.Reconnects.Inc()
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	c := &Client{
		config:  cfg,
		handler: handler,
	}

	// Resubscribe on every (re)connect; a broker restart can drop the
	// session state even with CleanSession=false.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("connected to MQTT broker: %s", cfg.Broker)
		for _, topic := range cfg.Topics {
			if err := c.Subscribe(topic); err != nil {
				logger.Error("failed to resubscribe to topic %s: %v", topic, err)
			}
		}
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect connects to the MQTT broker.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}
	return token.Error()
}

// Subscribe subscribes to the given topic at the configured QoS.
func (c *Client) Subscribe(topic string) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg.Topic(), msg.Payload())
		// Ack after the decode stage: malformed payloads are acknowledged
		// and dropped, well-formed ones are acknowledged regardless of
		// downstream write outcome because writes retry inside the sink
		// manager, not via broker redelivery.
		msg.Ack()
	})

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("subscribed to topic: %s", topic)
	return nil
}

// Unsubscribe drops all configured subscriptions.
func (c *Client) Unsubscribe() error {
	token := c.client.Unsubscribe(c.config.Topics...)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("unsubscribe timed out")
	}
	return token.Error()
}

// Disconnect disconnects from the MQTT broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}
