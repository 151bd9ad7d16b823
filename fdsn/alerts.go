package fdsn

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// DefaultAlertTopic is the topic filter for real-time event alerts.
	DefaultAlertTopic = "event/alert/#"

	// MQTT Quality of Service levels
	QoSAtMostOnce  = 0
	QoSAtLeastOnce = 1
)

// AlertClient receives real-time earthquake alert messages over MQTT.
// Alert feeds push preliminary origin solutions well before they appear
// in the catalog services, so consumers should treat them as provisional.
type AlertClient struct {
	broker   string
	username string
	password string
	client   mqtt.Client
	handlers map[string][]AlertHandler
	mu       sync.RWMutex
}

// AlertHandler is a function that handles alert messages.
type AlertHandler func(topic string, payload []byte)

// EventAlert is the JSON payload carried by alert messages.
type EventAlert struct {
	EventID   string    `json:"event_id"`
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	DepthKm   float64   `json:"depth_km"`
	Magnitude float64   `json:"magnitude"`
	MagType   string    `json:"mag_type,omitempty"`
	Agency    string    `json:"agency,omitempty"`
}

// ParseEventAlert decodes an alert payload.
func ParseEventAlert(payload []byte) (*EventAlert, error) {
	var alert EventAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event alert: %w", err)
	}
	return &alert, nil
}

// NewAlertClient creates an alert client for the given broker.
func NewAlertClient(broker, username, password string) *AlertClient {
	return &AlertClient{
		broker:   broker,
		username: username,
		password: password,
		handlers: make(map[string][]AlertHandler),
	}
}

// Connect establishes connection to the MQTT broker.
func (c *AlertClient) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}
	opts.SetClientID(fmt.Sprintf("fdsn_alerts_%d", time.Now().Unix()))

	if strings.HasPrefix(c.broker, "ssl://") || strings.HasPrefix(c.broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: false})
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onMessage)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect: %w", token.Error())
	}

	return nil
}

// Disconnect closes the connection to the MQTT broker.
func (c *AlertClient) Disconnect() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *AlertClient) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Subscribe subscribes to a topic filter.
func (c *AlertClient) Subscribe(topic string, qos byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected")
	}

	token := c.client.Subscribe(topic, qos, nil)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}

	return nil
}

// OnAlert registers a handler for messages on a topic prefix. Use "*" to
// receive every message.
func (c *AlertClient) OnAlert(topic string, handler AlertHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = append(c.handlers[topic], handler)
}

func (c *AlertClient) onConnect(client mqtt.Client) {
	log.Println("Connected to alert broker")
}

func (c *AlertClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("Alert broker connection lost: %v", err)
}

// onMessage is the default message handler.
func (c *AlertClient) onMessage(client mqtt.Client, msg mqtt.Message) {
	c.dispatchMessage(msg.Topic(), msg.Payload())
}

// dispatchMessage dispatches a message to registered handlers by exact,
// wildcard, or prefix match.
func (c *AlertClient) dispatchMessage(topic string, payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if handlers, exists := c.handlers[topic]; exists {
		for _, handler := range handlers {
			go handler(topic, payload)
		}
	}

	if handlers, exists := c.handlers["*"]; exists {
		for _, handler := range handlers {
			go handler(topic, payload)
		}
	}

	for handlerTopic, handlers := range c.handlers {
		if handlerTopic == "*" || handlerTopic == topic {
			continue
		}
		if strings.HasPrefix(topic, handlerTopic) {
			for _, handler := range handlers {
				go handler(topic, payload)
			}
		}
	}
}
