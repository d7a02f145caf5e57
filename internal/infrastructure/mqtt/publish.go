package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single event payload.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it
// at the requested QoS.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	if err := waitToken(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishEvent publishes an identity event on the service-wide topic and,
// when userID is set, on that user's topic too. Events are never retained.
func (c *Client) PublishEvent(eventType, userID string, payload []byte) error {
	qos := byte(c.cfg.QoS) //nolint:gosec // config validation bounds QoS to 0-2

	topics := []string{c.topics.Event(eventType)}
	if userID != "" {
		topics = append(topics, c.topics.UserEvent(userID, eventType))
	}
	for _, topic := range topics {
		if err := c.Publish(topic, payload, qos, false); err != nil {
			return err
		}
	}
	return nil
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}
