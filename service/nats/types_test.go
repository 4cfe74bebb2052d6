package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/brojonat/instapay/service/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "instapay.events.transfer-succeeded", Subject("transfer-succeeded"))
}

func TestFromEvent(t *testing.T) {
	created := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(3 * time.Second)

	msg := FromEvent(notify.Event{
		ID:          "evt-1",
		Name:        "transfer-succeeded",
		ExplorerURL: "https://etherscan.io/tx/0x99",
		CreatedAt:   created,
		ExpiresAt:   &expires,
	}, "instapay-cli")

	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, "instapay-cli", msg.Source)
	assert.Equal(t, &expires, msg.ExpiresAt)
	assert.False(t, msg.PublishedAt.IsZero())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "https://etherscan.io/tx/0x99", decoded["explorer_url"])
	assert.Equal(t, false, decoded["error"])
	_, hasMessage := decoded["message"]
	assert.False(t, hasMessage)
}

func TestMockPublisher_AsBusSink(t *testing.T) {
	mock := NewMockPublisher()
	bus := notify.NewBus(nil, 0, nil, nil)
	bus.AddSink(mock)

	bus.Publish(t.Context(), notify.Event{Name: "wallet-connected"})
	bus.Publish(t.Context(), notify.Event{Name: "approval-failed", Message: "Approval failed", Error: true})

	assert.Equal(t, []string{"wallet-connected", "approval-failed"}, mock.GetPublishedEventNames())

	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())

	mock.Reset()
	assert.Empty(t, mock.GetPublishedEvents())
}
