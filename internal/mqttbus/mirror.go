package mqttbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joshp123/goe-bridge/internal/devbus"
	"github.com/rs/zerolog"
)

const connectedPath = "/Connected"

// Topics derives the notification and write topic roots for one device.
type Topics struct {
	Notify string
	Write  string
}

// TopicsFor returns N/<portal>/<service>/<instance> and W/<portal>/<service>/<instance>.
func TopicsFor(portalID, serviceType string, instance int) Topics {
	root := fmt.Sprintf("%s/%s/%d", portalID, serviceType, instance)
	return Topics{Notify: "N/" + root, Write: "W/" + root}
}

// WillPayload is published on <notify>/Connected if the bridge drops off the broker.
func WillPayload() []byte {
	payload, _ := encodeValue(0)
	return payload
}

type valueMessage struct {
	Value any `json:"value"`
}

// Mirror publishes every bus change retained and applies broker writes to
// the bus as external writes.
type Mirror struct {
	bus    devbus.Bus
	client Client
	topics Topics
	logger zerolog.Logger
}

func NewMirror(bus devbus.Bus, client Client, topics Topics, logger zerolog.Logger) *Mirror {
	return &Mirror{
		bus:    bus,
		client: client,
		topics: topics,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}
}

// Run mirrors until ctx is done, then marks the device disconnected.
func (m *Mirror) Run(ctx context.Context) error {
	sub := m.bus.Subscribe(256)
	defer sub.Unsubscribe()

	unsubscribe, err := m.client.Subscribe(m.topics.Write+"/#", m.handleWrite)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", m.topics.Write, err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			m.publish(connectedPath, 0)
			return nil
		case change, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			m.publish(change.Path, change.Value)
		}
	}
}

func (m *Mirror) publish(path string, value any) {
	payload, err := encodeValue(value)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("encode value")
		return
	}
	if err := m.client.Publish(m.topics.Notify+path, payload, true); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("publish value")
	}
}

func (m *Mirror) handleWrite(topic string, payload []byte) {
	path := strings.TrimPrefix(topic, m.topics.Write)
	if path == topic || !strings.HasPrefix(path, "/") {
		return
	}
	value, err := decodeValue(payload)
	if err != nil {
		m.logger.Warn().Err(err).Str("topic", topic).Msg("invalid write payload")
		return
	}
	if err := m.bus.Write(path, value); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("write rejected")
	}
}

func encodeValue(value any) ([]byte, error) {
	return json.Marshal(valueMessage{Value: value})
}

// decodeValue accepts {"value": x} or a bare JSON value.
func decodeValue(payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if obj, ok := raw.(map[string]any); ok {
		value, ok := obj["value"]
		if !ok {
			return nil, fmt.Errorf("missing value field")
		}
		return value, nil
	}
	return raw, nil
}
