package contracts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewMessage(t *testing.T) {
	t.Run("creates message with generated ID and timestamp", func(t *testing.T) {
		msg := NewMessage("sensors/1", []byte("42"), PublishOptions{QoS: AtLeastOnce})

		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "sensors/1", msg.Topic)
		assert.Equal(t, []byte("42"), msg.Payload)
		assert.Equal(t, AtLeastOnce, msg.Options.QoS)
		assert.False(t, msg.Options.Retain)
		assert.NotZero(t, msg.CreatedAt)

		// Verify ID is a valid UUID
		_, err := uuid.Parse(msg.ID)
		assert.NoError(t, err)
	})

	t.Run("generates unique IDs", func(t *testing.T) {
		a := NewMessage("t", nil, PublishOptions{})
		b := NewMessage("t", nil, PublishOptions{})

		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"valid qos0", Message{Topic: "a/b", Options: PublishOptions{QoS: AtMostOnce}}, nil},
		{"valid qos2 retained", Message{Topic: "a", Options: PublishOptions{QoS: ExactlyOnce, Retain: true}}, nil},
		{"empty topic", Message{Options: PublishOptions{QoS: AtLeastOnce}}, ErrEmptyTopic},
		{"invalid qos", Message{Topic: "a", Options: PublishOptions{QoS: 3}}, ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestQoS(t *testing.T) {
	t.Run("Valid accepts levels 0 through 2", func(t *testing.T) {
		assert.True(t, AtMostOnce.Valid())
		assert.True(t, AtLeastOnce.Valid())
		assert.True(t, ExactlyOnce.Valid())
		assert.False(t, QoS(3).Valid())
		assert.False(t, GrantFailure.Valid())
	})

	t.Run("String names each level", func(t *testing.T) {
		assert.Equal(t, "at-most-once", AtMostOnce.String())
		assert.Equal(t, "at-least-once", AtLeastOnce.String())
		assert.Equal(t, "exactly-once", ExactlyOnce.String())
		assert.Equal(t, "grant-failure", GrantFailure.String())
		assert.Equal(t, "qos(7)", QoS(7).String())
	})
}
