package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ros_teleop_app/rosbridge"
)

// sentMsg decodes the outbound envelopes the coordinators produce.
type sentMsg struct {
	Op      string          `json:"op"`
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Service string          `json:"service"`
	Type    string          `json:"type"`
	Args    json.RawMessage `json:"args"`
	Msg     json.RawMessage `json:"msg"`
}

type goalArgs struct {
	GoalID struct {
		UUID []int `json:"uuid"`
	} `json:"goal_id"`
	Goal json.RawMessage `json:"goal"`
}

// fakeTransport records every envelope and can be flipped offline.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failSend  bool
	sent      []sentMsg
	published map[string][]json.RawMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, published: make(map[string][]json.RawMessage)}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return rosbridge.ErrNotConnected
	}
	if f.failSend {
		return errors.New("write: broken pipe")
	}
	var m sentMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Publish satisfies Publisher for the velocity and binding tests.
func (f *fakeTransport) Publish(topic, msgType string, msg interface{}) error {
	f.mu.Lock()
	connected := f.connected
	f.mu.Unlock()
	if !connected {
		return rosbridge.ErrNotConnected
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.published[topic] = append(f.published[topic], b)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func (f *fakeTransport) publishedOn(topic string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.published[topic]...)
}

// calls returns the call_service envelopes addressed to service.
func (f *fakeTransport) calls(service string) []sentMsg {
	var out []sentMsg
	for _, m := range f.messages() {
		if m.Op == rosbridge.OpCallService && m.Service == service {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) ops(op, topic string) []sentMsg {
	var out []sentMsg
	for _, m := range f.messages() {
		if m.Op == op && m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// uuidInts renders a textual goal id as the int array found on the wire.
func uuidInts(t *testing.T, goalID string) []int {
	t.Helper()
	enc, ok := rosbridge.EncodeGoalUUID(goalID)
	require.True(t, ok, "bad test uuid %q", goalID)
	out := make([]int, len(enc))
	for i, b := range enc {
		out[i] = int(b)
	}
	return out
}

func decodeGoalArgs(t *testing.T, m sentMsg) goalArgs {
	t.Helper()
	var a goalArgs
	require.NoError(t, json.Unmarshal(m.Args, &a))
	return a
}

// statusPublish builds an inbound GoalStatusArray publish for actionName.
func statusPublish(t *testing.T, actionName string, entries map[string]int) []byte {
	t.Helper()
	type entry struct {
		GoalInfo rosbridge.GoalInfo `json:"goal_info"`
		Status   int                `json:"status"`
	}
	var list []entry
	for id, code := range entries {
		enc, _ := rosbridge.EncodeGoalUUID(id)
		list = append(list, entry{GoalInfo: rosbridge.GoalInfo{GoalID: rosbridge.GoalID{UUID: enc}}, Status: code})
	}
	b, err := json.Marshal(map[string]interface{}{
		"op":    rosbridge.OpPublish,
		"topic": actionName + "/_action/status",
		"msg":   map[string]interface{}{"status_list": list},
	})
	require.NoError(t, err)
	return b
}

// serviceResponse builds an inbound service_response for a call id.
func serviceResponse(id, service string, values string, ok bool) []byte {
	return []byte(fmt.Sprintf(`{"op":"service_response","id":%q,"service":%q,"values":%s,"result":%t}`,
		id, service, values, ok))
}
