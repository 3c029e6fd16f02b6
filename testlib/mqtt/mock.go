// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// In-memory mqtt client recording every publish, so tests can assert
// on the emitted events without a broker. Everything else is a no-op.
type RecordingClient struct {
	Topics   []string
	Payloads []any
}

func (c *RecordingClient) Connect() error { return nil }

func (c *RecordingClient) Publish(topic string, obj any) {
	c.Topics = append(c.Topics, topic)
	c.Payloads = append(c.Payloads, obj)
}

func (c *RecordingClient) Disconnect() {}

func (c *RecordingClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	return nil
}
