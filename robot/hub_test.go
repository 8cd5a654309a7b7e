package robot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Len())

	assert.Equal(t, 2, h.Broadcast(BroadcastMsg{Type: MsgConnected}))
	assert.Equal(t, MsgConnected, (<-a).Type)
	assert.Equal(t, MsgConnected, (<-b).Type)

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Len())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < 150; i++ {
		h.Broadcast(BroadcastMsg{Type: MsgTopic, Data: i})
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, uint64(150-subscriberBuffer), h.Dropped())
	assert.Equal(t, 0, (<-ch).Data)
	assert.Equal(t, 1, h.Broadcast(BroadcastMsg{Type: MsgTopic}))
}
