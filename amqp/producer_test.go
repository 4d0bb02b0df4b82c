package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProducerMessageStampsConfiguredFields(t *testing.T) {
	p := &Producer{
		AppID:       "island-a",
		ContentType: "application/json",
		Encoding:    "utf-8",
		MessageType: "rpc.request",
	}

	msg := p.Message([]byte(`{"n":1}`))
	assert.Equal(t, "island-a", msg.AppId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "utf-8", msg.ContentEncoding)
	assert.Equal(t, "rpc.request", msg.Type)
	assert.Equal(t, []byte(`{"n":1}`), msg.Body)
	assert.Empty(t, msg.MessageId)
	assert.True(t, msg.Timestamp.IsZero())
}

func TestProducerMessageSetsIDAndTimestampWhenEnabled(t *testing.T) {
	p := &Producer{SetID: true, SetTime: true}
	msg := p.Message([]byte(`{}`))
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())
}
