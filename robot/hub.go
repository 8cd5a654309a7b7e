package robot

import (
	"sync"
	"sync/atomic"
)

// MsgType names the kind of event a BroadcastMsg carries.
type MsgType string

const (
	MsgConnected       MsgType = "robot_connected"
	MsgDisconnected    MsgType = "robot_disconnected"
	MsgGoalStatus      MsgType = "goal_status"
	MsgActionResult    MsgType = "action_result"
	MsgServiceResult   MsgType = "service_result"
	MsgBindingResult   MsgType = "binding_result"
	MsgTopic           MsgType = "topic"
	MsgRosbridgeStatus MsgType = "rosbridge_status"
	MsgCleared         MsgType = "state_cleared"

	// Replies addressed to a single WebSocket client.
	MsgStatus MsgType = "status"
	MsgButton MsgType = "button"
	MsgError  MsgType = "error"
)

// BroadcastMsg is one event on the hub, serialized as-is to WebSocket clients.
type BroadcastMsg struct {
	Type MsgType     `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// subscriberBuffer is how many events a subscriber may lag behind.
const subscriberBuffer = 100

// Hub fans robot events out to every subscriber. Delivery never blocks the
// producer: an event that does not fit a subscriber's buffer is counted and
// discarded.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan BroadcastMsg]struct{}
	dropped     atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan BroadcastMsg]struct{})}
}

// Subscribe registers a new event stream.
func (h *Hub) Subscribe() chan BroadcastMsg {
	ch := make(chan BroadcastMsg, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Calling it twice is harmless.
func (h *Hub) Unsubscribe(ch chan BroadcastMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
}

// Broadcast offers msg to every subscriber and returns how many took it.
func (h *Hub) Broadcast(msg BroadcastMsg) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for ch := range h.subscribers {
		select {
		case ch <- msg:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Dropped returns how many events were lost to full subscriber buffers since
// the hub was created.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
