package uplink

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Publisher mirrors payloads onto a message bus.
type Publisher interface {
	Publish(subtopic string, data map[string]any) error
	Close() error
}

// MQTTMirror publishes climate readings and device events under a topic prefix,
// e.g. terrarium/climate and terrarium/device.
type MQTTMirror struct {
	client paho.Client
	prefix string
}

func NewMQTTMirror(broker, clientID, prefix string) (*MQTTMirror, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &MQTTMirror{client: client, prefix: prefix}, nil
}

func (m *MQTTMirror) Publish(subtopic string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0, not retained: the HTTP upload is the record of truth
	token := m.client.Publish(m.prefix+"/"+subtopic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (m *MQTTMirror) Close() error {
	m.client.Disconnect(1000)
	return nil
}
