package rosbridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge/rosbridgetest"
)

func newTestClient(t *testing.T, fs *rosbridgetest.Server) *Client {
	t.Helper()
	host, port := fs.HostPort()
	c := NewClient(host, port, NewRouter(), logging.NewNop())
	c.ReconnectDelay = 20 * time.Millisecond
	t.Cleanup(c.Disconnect)
	return c
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c := NewClient("127.0.0.1", 1, NewRouter(), logging.NewNop())
	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrNotConnected)
	assert.ErrorIs(t, c.Publish("/t", TypeEmpty, Empty{}), ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestClientConnectAndDispatch(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)

	connected := make(chan struct{}, 1)
	c.OnConnected = func() { connected <- struct{}{} }

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("OnConnected not called")
	}

	got := make(chan string, 1)
	require.NoError(t, c.Subscribe("/chatter", TypeString, func(msg json.RawMessage) {
		got <- string(msg)
	}))
	require.Eventually(t, func() bool { return fs.Count(OpSubscribe, "/chatter") == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, fs.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, fs.Push([]byte(`{"op":"publish","topic":"/chatter","msg":{"data":"hello"}}`)))
	select {
	case msg := <-got:
		assert.JSONEq(t, `{"data":"hello"}`, msg)
	case <-time.After(time.Second):
		t.Fatal("topic handler not called")
	}
}

func TestClientAdvertisesOncePerConnection(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Connect())

	require.NoError(t, c.Publish("/led", TypeBool, Bool{Data: true}))
	require.NoError(t, c.Publish("/led", TypeBool, Bool{Data: false}))

	require.Eventually(t, func() bool { return fs.Count(OpPublish, "/led") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fs.Count(OpAdvertise, "/led"))
}

func TestClientReconnectResubscribes(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)

	var mu sync.Mutex
	disconnects := 0
	c.OnDisconnected = func() {
		mu.Lock()
		disconnects++
		mu.Unlock()
	}

	require.NoError(t, c.Connect())
	require.NoError(t, c.Subscribe("/odom", "nav_msgs/msg/Odometry", func(json.RawMessage) {}))
	require.Eventually(t, func() bool { return fs.Count(OpSubscribe, "/odom") == 1 }, time.Second, 5*time.Millisecond)

	fs.DropConnection()

	require.Eventually(t, func() bool { return fs.Count(OpSubscribe, "/odom") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsConnected())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClientDisconnectStopsReconnect(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Connect())

	c.Disconnect()
	assert.False(t, c.IsConnected())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.IsConnected())
}

func TestClientUnsubscribe(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Connect())

	require.NoError(t, c.Subscribe("/scan", "sensor_msgs/msg/LaserScan", func(json.RawMessage) {}))
	require.NoError(t, c.Unsubscribe("/scan"))

	assert.Empty(t, c.Subscriptions())
	require.Eventually(t, func() bool { return fs.Count(OpUnsubscribe, "/scan") == 1 }, time.Second, 5*time.Millisecond)
}

func TestClientUnsubscribeKeepsSharedStream(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Connect())

	var mu sync.Mutex
	statuses := 0
	c.router.RegisterTopicHandler("/nav/_action/status", "goals", func(json.RawMessage) {
		mu.Lock()
		statuses++
		mu.Unlock()
	})
	require.NoError(t, c.Subscribe("/nav/_action/status", TypeGoalStatusArray, func(json.RawMessage) {}))
	require.NoError(t, c.Unsubscribe("/nav/_action/status"))

	require.NoError(t, fs.Push([]byte(`{"op":"publish","topic":"/nav/_action/status","msg":{"status_list":[]}}`)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return statuses == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, fs.Count(OpUnsubscribe, "/nav/_action/status"))
}

func TestClientAdvertiseServiceAnswersCalls(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)

	var mu sync.Mutex
	var gotArgs json.RawMessage
	err := c.AdvertiseService("/halt", TypeTrigger, func(args json.RawMessage) (interface{}, bool) {
		mu.Lock()
		gotArgs = args
		mu.Unlock()
		return map[string]interface{}{"success": true}, true
	})
	assert.ErrorIs(t, err, ErrNotConnected)

	// The advertisement is sent once the link comes up.
	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return fs.Count(OpAdvertiseService, "/halt") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, fs.Push([]byte(`{"op":"call_service","id":"req_1","service":"/halt","args":{"why":"estop"}}`)))
	require.Eventually(t, func() bool { return fs.Count(OpServiceResponse, "/halt") == 1 }, time.Second, 5*time.Millisecond)

	var resp rosbridgetest.Message
	for _, m := range fs.Received() {
		if m.Op == OpServiceResponse {
			resp = m
		}
	}
	assert.Equal(t, "req_1", resp.ID)
	require.NotNil(t, resp.Result)
	assert.True(t, *resp.Result)
	assert.JSONEq(t, `{"success":true}`, string(resp.Values))
	mu.Lock()
	assert.JSONEq(t, `{"why":"estop"}`, string(gotArgs))
	mu.Unlock()
}

func TestClientDisconnectUnadvertises(t *testing.T) {
	fs := rosbridgetest.NewServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Connect())

	require.NoError(t, c.Publish("/led", TypeBool, Bool{Data: true}))
	c.Disconnect()

	require.Eventually(t, func() bool { return fs.Count(OpUnadvertise, "/led") == 1 }, time.Second, 5*time.Millisecond)
}
