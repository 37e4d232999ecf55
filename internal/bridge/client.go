// Package bridge mirrors device MQTT traffic into the shared store and
// relays store command documents back out to per-device command topics.
// Embedded devices only ever speak MQTT; client-side components only ever
// see store documents.
package bridge

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client manages the MQTT connection. Subscribing and publishing live in
// Subscriber and CommandRelay.
type Client struct {
	client mqtt.Client
	config ClientConfig
}

// ClientConfig holds MQTT broker settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient connects to the broker with auto-reconnect enabled.
func NewClient(config ClientConfig) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(connectHandler)
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Println("Bridge: connected to MQTT broker:", config.Broker)
	return &Client{client: client, config: config}, nil
}

// Native returns the underlying paho client for Subscriber and CommandRelay.
func (c *Client) Native() mqtt.Client {
	return c.client
}

// IsConnected reports current broker connectivity.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
	log.Println("Bridge: disconnected from MQTT broker")
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Println("Bridge: MQTT connection established")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("Bridge: MQTT connection lost: %v", err)
}
