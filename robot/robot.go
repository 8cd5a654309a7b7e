package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ros_teleop_app/config"
	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

// ErrNoGoal is returned when a cancel or result request names no goal and
// the action has none on record.
var ErrNoGoal = errors.New("no goal on record")

// TopicSample is the latest message seen on a subscribed topic.
type TopicSample struct {
	Topic    string          `json:"topic"`
	Type     string          `json:"type"`
	Count    int             `json:"count"`
	Hz       int             `json:"hz"`
	Last     json.RawMessage `json:"last,omitempty"`
	Received time.Time       `json:"received"`

	lastTime time.Time
}

// CallResult is the outcome of a service call or goal result.
type CallResult struct {
	Name   string          `json:"name"`
	OK     bool            `json:"ok"`
	Values json.RawMessage `json:"values,omitempty"`
}

// Status is a snapshot of the whole robot link.
type Status struct {
	Connected   bool            `json:"connected"`
	URL         string          `json:"url"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	Actions     []ActionState   `json:"actions"`
	Services    []ServiceState  `json:"services"`
	Topics      []TopicSample   `json:"topics"`
	Bindings    []string        `json:"bindings"`
	Velocity    rosbridge.Twist `json:"velocity"`
	Subscribers int             `json:"subscribers"`
	Dropped     uint64          `json:"dropped_events"`
}

// Robot owns the rosbridge link and everything that talks over it.
type Robot struct {
	mu          sync.RWMutex
	topics      map[string]*TopicSample
	connectedAt time.Time
	dial        singleflight.Group

	log logging.Logger

	Client   *rosbridge.Client
	Router   *rosbridge.Router
	Goals    *GoalCoordinator
	Services *ServiceQueue
	Velocity *VelocityPublisher
	Bindings *Bindings
	Hub      *Hub

	stopEvents func()
	eventsDone chan struct{}
}

// NewRobot wires a client, both coordinators, the velocity publisher and the
// button bindings from cfg. Nothing is dialed until Start or Connect.
func NewRobot(cfg *config.Config, log logging.Logger) *Robot {
	router := rosbridge.NewRouter()
	client := rosbridge.NewClient(cfg.Rosbridge.Host, cfg.Rosbridge.Port, router, log)
	client.ReconnectDelay = cfg.Rosbridge.ReconnectDelay
	client.HandshakeTimeout = cfg.Rosbridge.HandshakeTimeout

	r := &Robot{
		topics:   make(map[string]*TopicSample),
		log:      log.WithField("component", "robot"),
		Client:   client,
		Router:   router,
		Goals:    NewGoalCoordinator(client, router, log, cfg.Goals.Timeout),
		Services: NewServiceQueue(client, router, log, cfg.Services.Timeout),
		Velocity: NewVelocityPublisher(client, log, cfg.Velocity.Topic, cfg.Velocity.RateHz,
			cfg.Velocity.MaxLinear, cfg.Velocity.MaxAngular),
		Hub: NewHub(),
	}
	r.Bindings = NewBindings(cfg.Bindings, r.Goals, r.Services, client, log, func(binding string, raw json.RawMessage) {
		res := decodeResult(binding, raw)
		r.Hub.Broadcast(BroadcastMsg{Type: MsgBindingResult, Data: res})
	})

	router.SetFallback(r.handleUnrouted)
	client.OnConnected = r.onConnected
	client.OnDisconnected = r.onDisconnected

	if name := cfg.Velocity.HaltService; name != "" {
		err := client.AdvertiseService(name, rosbridge.TypeTrigger, r.serveHalt)
		if err != nil && !errors.Is(err, rosbridge.ErrNotConnected) {
			r.log.Warnf("Advertising %s failed: %v", name, err)
		}
	}

	events, stop := r.Goals.Subscribe("")
	r.stopEvents = stop
	r.eventsDone = make(chan struct{})
	go func() {
		defer close(r.eventsDone)
		for ev := range events {
			r.Hub.Broadcast(BroadcastMsg{Type: MsgGoalStatus, Data: ev})
		}
	}()
	return r
}

// Start runs the velocity loop and dials rosbridge when autoConnect is set.
// A failed first dial keeps retrying in the background.
func (r *Robot) Start(autoConnect bool) {
	r.Velocity.Start()
	if !autoConnect {
		return
	}
	if err := r.Client.Connect(); err != nil {
		r.log.Warnf("Initial connect failed, retrying: %v", err)
	}
}

// Close disconnects and stops every background goroutine.
func (r *Robot) Close() {
	r.Velocity.Stop()
	r.Client.Disconnect()
	r.stopEvents()
	<-r.eventsDone
}

// ──────────────────────────── Connection

// Connect (re)dials rosbridge, optionally at a new address. Concurrent calls
// for the same address share one dial.
func (r *Robot) Connect(host string, port int) error {
	curHost, curPort := r.Client.Address()
	if host == "" {
		host = curHost
	}
	if port == 0 {
		port = curPort
	}
	_, err, _ := r.dial.Do(fmt.Sprintf("%s:%d", host, port), func() (interface{}, error) {
		return nil, r.connect(host, port)
	})
	return err
}

func (r *Robot) connect(host string, port int) error {
	curHost, curPort := r.Client.Address()
	if r.Client.IsConnected() && host == curHost && port == curPort {
		return nil
	}
	r.Client.Disconnect()
	r.Client.SetAddress(host, port)
	return r.Client.Connect()
}

// Disconnect closes the link and stops reconnecting.
func (r *Robot) Disconnect() {
	r.Client.Disconnect()
}

// Both coordinators start clean on every connection: goals and calls issued
// over a previous socket will never be answered.
func (r *Robot) onConnected() {
	if !r.Client.IsConnected() {
		return
	}
	r.Goals.ForceClearAllActionBusyLocks()
	r.Services.ForceClearAllServiceBusyLocks()
	r.Velocity.SetEnabled(true)

	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()

	r.log.Infof("Link up: %s", r.Client.URL())
	r.Hub.Broadcast(BroadcastMsg{Type: MsgConnected, Data: map[string]string{"url": r.Client.URL()}})
}

func (r *Robot) onDisconnected() {
	// a reconnect may have won the race with this callback
	if r.Client.IsConnected() {
		return
	}
	r.Velocity.SetEnabled(false)
	r.Velocity.Halt()
	r.Goals.ForceClearAllActionBusyLocks()
	r.Services.ForceClearAllServiceBusyLocks()

	r.mu.Lock()
	r.connectedAt = time.Time{}
	r.mu.Unlock()

	r.log.Warnf("Link down: %s", r.Client.URL())
	r.Hub.Broadcast(BroadcastMsg{Type: MsgDisconnected})
}

func (r *Robot) handleUnrouted(raw json.RawMessage) {
	var env rosbridge.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	switch env.Op {
	case rosbridge.OpStatus:
		r.log.Warnf("rosbridge status: %s", string(raw))
		r.Hub.Broadcast(BroadcastMsg{Type: MsgRosbridgeStatus, Data: raw})
	case rosbridge.OpServiceResponse:
		r.log.Debugf("Late or unknown service response %s from %s", env.ID, env.Service)
	default:
		r.log.Debugf("Unhandled %s message", env.Op)
	}
}

// ──────────────────────────── Topics

// SubscribeTopic streams topic to the hub and keeps its latest sample.
func (r *Robot) SubscribeTopic(topic, msgType string) error {
	r.mu.Lock()
	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = &TopicSample{Topic: topic, Type: msgType}
	}
	r.mu.Unlock()

	err := r.Client.Subscribe(topic, msgType, func(msg json.RawMessage) {
		now := time.Now()
		r.mu.Lock()
		if s, ok := r.topics[topic]; ok {
			s.Count++
			s.Hz = measureHz(&s.lastTime, now)
			s.Last = msg
			s.Received = now
		}
		r.mu.Unlock()
		r.Hub.Broadcast(BroadcastMsg{Type: MsgTopic, Data: map[string]interface{}{"topic": topic, "msg": msg}})
	})
	if errors.Is(err, rosbridge.ErrNotConnected) {
		// the client sends it on the next connect
		r.log.Debugf("Subscription to %s deferred until connected", topic)
		return nil
	}
	return err
}

// UnsubscribeTopic stops streaming topic.
func (r *Robot) UnsubscribeTopic(topic string) error {
	r.mu.Lock()
	delete(r.topics, topic)
	r.mu.Unlock()
	return r.Client.Unsubscribe(topic)
}

// Publish sends msg on topic, advertising it first if needed. Payloads of
// well-known types are checked before anything goes on the wire.
func (r *Robot) Publish(topic, msgType string, msg json.RawMessage) error {
	if err := rosbridge.CheckPayload(msgType, msg); err != nil {
		return err
	}
	return r.Client.Publish(topic, msgType, msg)
}

func measureHz(last *time.Time, now time.Time) int {
	if last.IsZero() {
		*last = now
		return 0
	}
	elapsed := now.Sub(*last)
	*last = now
	if elapsed > 0 {
		return int(time.Second / elapsed)
	}
	return 0
}

// ──────────────────────────── Actions

// SendGoal submits or queues a goal; its result is broadcast on the hub.
func (r *Robot) SendGoal(actionName, actionType string, goal json.RawMessage, goalID string) (Submission, string) {
	opts := []GoalOption{WithResultCallback(func(raw json.RawMessage) {
		r.Hub.Broadcast(BroadcastMsg{Type: MsgActionResult, Data: decodeResult(actionName, raw)})
	})}
	if goalID != "" {
		opts = append(opts, WithGoalUUID(goalID))
	}
	return r.Goals.SendOrQueueActionGoal(actionName, actionType, goal, opts...)
}

// CancelGoal cancels goalID, or the action's current goal when goalID is
// empty. It returns the id that was canceled.
func (r *Robot) CancelGoal(actionName, actionType, goalID string) (string, error) {
	goalID, actionType, err := r.resolveGoal(actionName, actionType, goalID)
	if err != nil {
		return "", err
	}
	if !r.Client.IsConnected() {
		return "", rosbridge.ErrNotConnected
	}
	r.Goals.CancelActionGoal(actionName, actionType, goalID)
	return goalID, nil
}

// FetchResult asks for the result of goalID, or of the action's current goal.
func (r *Robot) FetchResult(actionName, actionType, goalID string) (string, error) {
	goalID, actionType, err := r.resolveGoal(actionName, actionType, goalID)
	if err != nil {
		return "", err
	}
	if !r.Client.IsConnected() {
		return "", rosbridge.ErrNotConnected
	}
	r.Goals.GetActionResultViaService(actionName, actionType, goalID, func(raw json.RawMessage) {
		r.Hub.Broadcast(BroadcastMsg{Type: MsgActionResult, Data: decodeResult(actionName, raw)})
	})
	return goalID, nil
}

func (r *Robot) resolveGoal(actionName, actionType, goalID string) (string, string, error) {
	if goalID != "" && actionType != "" {
		return goalID, actionType, nil
	}
	st, ok := r.Goals.State(actionName)
	if !ok || st.GoalID == "" {
		if goalID == "" {
			return "", "", fmt.Errorf("%s: %w", actionName, ErrNoGoal)
		}
		return goalID, actionType, nil
	}
	if goalID == "" {
		goalID = st.GoalID
	}
	if actionType == "" {
		actionType = st.ActionType
	}
	return goalID, actionType, nil
}

// ──────────────────────────── Services

// CallService sends or queues a request and waits for its response until ctx
// ends. A queued request that gets replaced by a newer one never answers, so
// callers should always pass a deadline.
func (r *Robot) CallService(ctx context.Context, serviceName, serviceType string, request json.RawMessage) (CallResult, Submission, error) {
	done := make(chan CallResult, 1)
	sub := r.Services.SendOrQueueServiceRequest(serviceName, serviceType, request, func(raw json.RawMessage) {
		res := decodeResult(serviceName, raw)
		r.Hub.Broadcast(BroadcastMsg{Type: MsgServiceResult, Data: res})
		done <- res
	})
	if sub == SubmissionDropped {
		return CallResult{}, sub, rosbridge.ErrNotConnected
	}

	select {
	case res := <-done:
		return res, sub, nil
	case <-ctx.Done():
		return CallResult{}, sub, fmt.Errorf("waiting for %s: %w", serviceName, ctx.Err())
	}
}

// ──────────────────────────── Controls

// ClearAll resets both coordinators.
func (r *Robot) ClearAll() {
	r.Goals.ForceClearAllActionBusyLocks()
	r.Services.ForceClearAllServiceBusyLocks()
	r.Hub.Broadcast(BroadcastMsg{Type: MsgCleared})
}

// SetJoystick sets the desired velocity from normalized axes.
func (r *Robot) SetJoystick(linearX, linearY, angularZ float64) {
	r.Velocity.SetJoystick(linearX, linearY, angularZ)
}

// Halt zeroes the commanded velocity.
func (r *Robot) Halt() {
	r.Velocity.Halt()
}

// serveHalt answers the advertised std_srvs/Trigger halt service.
func (r *Robot) serveHalt(json.RawMessage) (interface{}, bool) {
	r.log.Infof("Halt requested over ROS")
	r.Halt()
	return map[string]interface{}{"success": true, "message": "teleop halted"}, true
}

// Press triggers a configured button binding.
func (r *Robot) Press(binding string) (Trigger, error) {
	return r.Bindings.Trigger(binding)
}

// Status returns a snapshot of the link and both coordinators.
func (r *Robot) Status() Status {
	st := Status{
		Connected:   r.Client.IsConnected(),
		URL:         r.Client.URL(),
		Actions:     r.Goals.Snapshot(),
		Services:    r.Services.Snapshot(),
		Bindings:    r.Bindings.Names(),
		Velocity:    r.Velocity.Desired(),
		Subscribers: r.Hub.Len(),
		Dropped:     r.Hub.Dropped(),
	}
	sort.Slice(st.Actions, func(i, j int) bool { return st.Actions[i].ActionName < st.Actions[j].ActionName })
	sort.Slice(st.Services, func(i, j int) bool { return st.Services[i].ServiceName < st.Services[j].ServiceName })
	sort.Strings(st.Bindings)

	r.mu.RLock()
	if !r.connectedAt.IsZero() {
		at := r.connectedAt
		st.ConnectedAt = &at
	}
	st.Topics = make([]TopicSample, 0, len(r.topics))
	for _, s := range r.topics {
		st.Topics = append(st.Topics, *s)
	}
	r.mu.RUnlock()
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Topic < st.Topics[j].Topic })
	return st
}

// decodeResult pulls values and the success flag out of a service_response.
func decodeResult(name string, raw json.RawMessage) CallResult {
	var env rosbridge.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return CallResult{Name: name}
	}
	ok := env.Result == nil || *env.Result
	return CallResult{Name: name, OK: ok, Values: env.Values}
}
