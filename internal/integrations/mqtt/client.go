package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"face-attendance-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client publishes attendance events to an MQTT broker so that external
// systems (displays, automations) can react to check-ins.
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected bool
}

// AttendanceEvent is the payload published on each recognition result.
type AttendanceEvent struct {
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"` // "recorded" or "already_present"
	Distance  float64   `json:"distance"`
}

// NewClient creates a new MQTT client.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start connects the client to the broker.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop disconnects the client.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
		c.isConnected = false
		log.Info("MQTT client disconnected")
	}
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected = true
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected = false
}

// PublishAttendance publishes an attendance event on the configured topic.
// Failures are logged, not propagated: eventing must never fail a check-in.
func (c *Client) PublishAttendance(event AttendanceEvent) {
	if c == nil || !c.IsConnected() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal attendance event: %v", err)
		return
	}

	token := c.client.Publish(c.config.Topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		log.Errorf("Failed to publish attendance event to topic %s: %v", c.config.Topic, token.Error())
		return
	}

	log.Debugf("Published attendance event for %s to topic %s", event.Name, c.config.Topic)
}
