package contracts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QoS is an MQTT-style quality of service level.
type QoS byte

const (
	// AtMostOnce delivers a message once with no acknowledgment (fire and forget).
	AtMostOnce QoS = 0
	// AtLeastOnce guarantees delivery but may duplicate.
	AtLeastOnce QoS = 1
	// ExactlyOnce guarantees single delivery at higher protocol overhead.
	ExactlyOnce QoS = 2
	// GrantFailure is the broker's per-topic rejection code in a subscription grant.
	GrantFailure QoS = 0x80
)

// Valid reports whether the QoS is one of the three deliverable levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// String returns a human-readable QoS name.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	case GrantFailure:
		return "grant-failure"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

var (
	// ErrEmptyTopic is returned when a message or subscription names no topic.
	ErrEmptyTopic = errors.New("contracts: topic cannot be empty")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("contracts: invalid QoS level (must be 0, 1 or 2)")
)

// PublishOptions carries the broker delivery options bound to a message.
// Their semantics belong to the broker protocol, not to mqmate.
type PublishOptions struct {
	QoS    QoS
	Retain bool
}

// Message is an outbound publication. It is immutable once created; delivery
// bookkeeping (attempt counts, outcomes) lives with the queue, not here.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Options   PublishOptions
	CreatedAt time.Time
}

// NewMessage creates a message with a generated ID and UTC creation timestamp.
func NewMessage(topic string, payload []byte, options PublishOptions) Message {
	return Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Options:   options,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the message is publishable: non-empty topic, valid QoS.
func (m Message) Validate() error {
	if m.Topic == "" {
		return ErrEmptyTopic
	}
	if !m.Options.QoS.Valid() {
		return ErrInvalidQoS
	}
	return nil
}
