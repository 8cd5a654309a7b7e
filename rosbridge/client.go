package rosbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ros_teleop_app/logging"
)

// ErrNotConnected is returned by Send and friends while no socket is open.
var ErrNotConnected = errors.New("rosbridge: not connected")

// Client manages the single WebSocket connection to a rosbridge_server.
// Inbound messages are handed to the Router.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	host string
	port int

	connected bool
	stopped   bool // set by Disconnect, suppresses auto reconnect

	// Topic subscriptions, re-sent after every reconnect
	subs map[string]string
	// Topics advertised on the current socket
	advertised map[string]bool
	// Services this client serves, re-advertised after every reconnect
	services map[string]string

	router *Router
	log    logging.Logger

	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration

	// Callbacks, set by the robot layer
	OnConnected    func()
	OnDisconnected func()
}

// NewClient creates a new rosbridge client.
func NewClient(host string, port int, router *Router, log logging.Logger) *Client {
	return &Client{
		host:             host,
		port:             port,
		subs:             make(map[string]string),
		advertised:       make(map[string]bool),
		services:         make(map[string]string),
		router:           router,
		log:              log.WithField("component", "rosbridge"),
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// SetAddress changes the target used by the next Connect.
func (c *Client) SetAddress(host string, port int) {
	c.mu.Lock()
	c.host = host
	c.port = port
	c.mu.Unlock()
}

// Address returns the configured host and port.
func (c *Client) Address() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host, c.port
}

// URL returns the rosbridge WebSocket URL.
func (c *Client) URL() string {
	host, port := c.Address()
	return fmt.Sprintf("ws://%s:%d", host, port)
}

// Connect dials the rosbridge WebSocket server. On failure a reconnect is
// scheduled unless Disconnect was called.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.stopped = false
	url := fmt.Sprintf("ws://%s:%d", c.host, c.port)
	dialer := websocket.Dialer{HandshakeTimeout: c.HandshakeTimeout}
	c.mu.Unlock()

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		go c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	if c.connected || c.stopped {
		// lost a race with another Connect or a Disconnect
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.advertised = make(map[string]bool)
	subs := make(map[string]string, len(c.subs))
	for topic, msgType := range c.subs {
		subs[topic] = msgType
	}
	services := make(map[string]string, len(c.services))
	for service, serviceType := range c.services {
		services[service] = serviceType
	}
	c.mu.Unlock()

	go c.readLoop(conn)

	for topic, msgType := range subs {
		if err := c.Send(SubscribeMsg(topic, msgType)); err != nil {
			c.log.Warnf("Re-subscribe %s failed: %v", topic, err)
		}
	}
	for service, serviceType := range services {
		if err := c.Send(AdvertiseServiceMsg(service, serviceType)); err != nil {
			c.log.Warnf("Re-advertise service %s failed: %v", service, err)
		}
	}

	c.log.Infof("Connected to %s", url)
	if c.OnConnected != nil {
		go c.OnConnected()
	}
	return nil
}

// Disconnect withdraws the topics this client advertised, closes the
// connection and stops reconnecting.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		for topic := range c.advertised {
			if err := c.conn.WriteMessage(websocket.TextMessage, UnadvertiseMsg(topic)); err != nil {
				c.log.Debugf("Unadvertise %s failed: %v", topic, err)
				break
			}
		}
		c.conn.Close()
	}
	c.mu.Unlock()

	c.log.Infof("Disconnected")
	if c.OnDisconnected != nil {
		go c.OnDisconnected()
	}
}

// IsConnected returns connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes one raw envelope. Writes are serialized by the client mutex.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ──────────────────────────── Topics

// SubscriptionOwner is the router owner key of handlers installed by
// Subscribe.
const SubscriptionOwner = "subscription"

// Subscribe registers h for topic and asks rosbridge for the stream. The
// subscription survives reconnects.
func (c *Client) Subscribe(topic, msgType string, h Handler) error {
	c.router.RegisterTopicHandler(topic, SubscriptionOwner, h)
	c.mu.Lock()
	c.subs[topic] = msgType
	c.mu.Unlock()
	return c.Send(SubscribeMsg(topic, msgType))
}

// Unsubscribe drops the handler installed by Subscribe. The stream itself is
// only stopped when no other owner still listens on topic.
func (c *Client) Unsubscribe(topic string) error {
	remaining := c.router.RemoveTopicHandler(topic, SubscriptionOwner)
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	if remaining > 0 {
		c.log.Debugf("Keeping stream of %s, %d other handler(s) listening", topic, remaining)
		return nil
	}
	return c.Send(UnsubscribeMsg(topic))
}

// Subscriptions returns a copy of the active topic subscriptions.
func (c *Client) Subscriptions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

// Advertise announces topic once per connection.
func (c *Client) Advertise(topic, msgType string) error {
	c.mu.Lock()
	done := c.advertised[topic]
	c.mu.Unlock()
	if done {
		return nil
	}
	if err := c.Send(AdvertiseMsg(topic, msgType)); err != nil {
		return err
	}
	c.mu.Lock()
	c.advertised[topic] = true
	c.mu.Unlock()
	return nil
}

// Publish advertises topic if needed and publishes msg on it.
func (c *Client) Publish(topic, msgType string, msg interface{}) error {
	if err := c.Advertise(topic, msgType); err != nil {
		return err
	}
	return c.Send(PublishMsg(topic, msg))
}

// ──────────────────────────── Services

// ServiceFunc serves one call to an advertised service and returns the
// response values and whether the call succeeded.
type ServiceFunc func(args json.RawMessage) (values interface{}, ok bool)

// AdvertiseService offers service to the ROS graph. Calls arrive through the
// router and are answered with a service_response. The advertisement
// survives reconnects.
func (c *Client) AdvertiseService(service, serviceType string, fn ServiceFunc) error {
	c.router.RegisterServiceHandler(service, func(raw json.RawMessage) {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return
		}
		values, ok := fn(env.Args)
		if err := c.Send(ServiceResponseMsg(env.ID, service, values, ok)); err != nil {
			c.log.Warnf("Response to %s call %s not sent: %v", service, env.ID, err)
		}
	})
	c.mu.Lock()
	c.services[service] = serviceType
	c.mu.Unlock()
	return c.Send(AdvertiseServiceMsg(service, serviceType))
}

// ──────────────────────────── Read loop

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected && c.conn == conn
			if wasConnected {
				c.connected = false
			}
			c.mu.Unlock()

			if wasConnected {
				c.log.Warnf("Connection lost: %v", err)
				if c.OnDisconnected != nil {
					go c.OnDisconnected()
				}
				go c.scheduleReconnect()
			}
			return
		}
		if !c.router.Dispatch(msg) {
			c.log.Debugf("Unrouted message: %s", truncate(msg, 200))
		}
	}
}

// ──────────────────────────── Reconnect logic

func (c *Client) scheduleReconnect() {
	time.Sleep(c.ReconnectDelay)
	c.mu.Lock()
	if c.connected || c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Infof("Reconnecting to %s ...", c.URL())
	if err := c.Connect(); err != nil {
		c.log.Debugf("Reconnect failed: %v", err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
