// Package mqttbus mirrors a device bus onto MQTT using the Venus OS topic
// layout: values on N/<portal>/<service>/<instance><path>, writes on W/....
package mqttbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Handler receives a message on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is the broker surface the mirror needs.
type Client interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler Handler) (func(), error)
	Close()
}

// Options configures a broker connection.
type Options struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	WillTopic   string
	WillPayload []byte
	// ConnectTimeout bounds the initial connect. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

const DefaultConnectTimeout = 10 * time.Second

// PahoClient is a Client backed by eclipse/paho.mqtt.golang.
type PahoClient struct {
	client mqtt.Client
	mu     sync.Mutex
	subs   map[string]Handler
}

var _ Client = (*PahoClient)(nil)

// Dial connects to the broker. The will message is retained.
func Dial(opts Options) (*PahoClient, error) {
	broker := strings.TrimSpace(opts.Broker)
	if broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "goe-bridge-" + uuid.NewString()
	}

	pahoOpts := mqtt.NewClientOptions()
	pahoOpts.AddBroker(broker)
	pahoOpts.SetUsername(opts.Username)
	pahoOpts.SetPassword(opts.Password)
	pahoOpts.SetClientID(clientID)
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	// Only established sessions reconnect; the first connect fails fast.
	pahoOpts.SetAutoReconnect(true)
	pahoOpts.SetConnectTimeout(timeout)
	if opts.WillTopic != "" {
		pahoOpts.SetBinaryWill(opts.WillTopic, opts.WillPayload, 1, true)
	}

	pc := &PahoClient{subs: make(map[string]Handler)}
	pahoOpts.OnConnect = pc.resubscribeAll
	client := mqtt.NewClient(pahoOpts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	pc.client = client
	return pc, nil
}

func (c *PahoClient) Publish(topic string, payload []byte, retained bool) error {
	if token := c.client.Publish(topic, 1, retained, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *PahoClient) Subscribe(topic string, handler Handler) (func(), error) {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if token := c.client.Subscribe(topic, 1, wrap(handler)); token.Wait() && token.Error() != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return nil, token.Error()
	}

	return func() {
		c.mu.Lock()
		_, ok := c.subs[topic]
		delete(c.subs, topic)
		c.mu.Unlock()
		if ok {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

// Close disconnects, allowing a short time for in-flight publishes.
func (c *PahoClient) Close() {
	c.client.Disconnect(250)
}

func (c *PahoClient) resubscribeAll(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()
	for topic, h := range subs {
		_ = client.Subscribe(topic, 1, wrap(h)).Wait()
	}
}

func wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}
