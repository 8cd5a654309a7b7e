package robot

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

// Transport is the send side of the rosbridge connection.
type Transport interface {
	Send(data []byte) error
	IsConnected() bool
}

// MessageRouter is where the coordinators register for inbound messages.
type MessageRouter interface {
	RegisterTopicHandler(topic, owner string, h rosbridge.Handler)
	RegisterOneShotHandler(id string, h rosbridge.Handler)
	RemoveOneShotHandler(id string)
}

// goalsOwner keys the coordinator's status topic handlers in the router.
const goalsOwner = "goals"

// ResultFunc receives the raw rosbridge response of a goal result or
// service call.
type ResultFunc func(result json.RawMessage)

// Submission tells the caller what happened to a goal or service request.
type Submission int

const (
	// SubmissionDropped means nothing was sent, e.g. while disconnected.
	SubmissionDropped Submission = iota
	SubmissionSent
	// SubmissionQueued means the request waits in the depth-1 pending slot.
	SubmissionQueued
)

func (s Submission) String() string {
	switch s {
	case SubmissionSent:
		return "sent"
	case SubmissionQueued:
		return "queued"
	}
	return "dropped"
}

func (s Submission) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// GoalStatusEvent is published on every status update of a tracked goal.
type GoalStatusEvent struct {
	ActionName string               `json:"action_name"`
	GoalID     string               `json:"goal_id"`
	Status     rosbridge.GoalStatus `json:"status"`
}

// ActionState is a read-only view of one action record.
type ActionState struct {
	ActionName string               `json:"action_name"`
	ActionType string               `json:"action_type"`
	GoalID     string               `json:"goal_id"`
	Status     rosbridge.GoalStatus `json:"status"`
	HasPending bool                 `json:"has_pending"`
}

type pendingGoal struct {
	actionType string
	goal       json.RawMessage
	onResult   ResultFunc
}

type actionRecord struct {
	actionType string
	goalID     string
	status     rosbridge.GoalStatus
	pending    *pendingGoal
}

// busy reports whether a submitted goal has not reached a terminal status.
func (r *actionRecord) busy() bool {
	return r.goalID != "" && !r.status.IsTerminal()
}

// GoalOption customizes a goal submission.
type GoalOption func(*goalOptions)

type goalOptions struct {
	goalID   string
	onResult ResultFunc
}

// WithGoalUUID sends the goal under the given id instead of a random one.
func WithGoalUUID(id string) GoalOption {
	return func(o *goalOptions) { o.goalID = id }
}

// WithResultCallback registers fn to receive the goal result exactly once.
func WithResultCallback(fn ResultFunc) GoalOption {
	return func(o *goalOptions) { o.onResult = fn }
}

// GoalCoordinator keeps at most one active goal per action name. A goal sent
// while another is active cancels the old one and waits in a single pending
// slot; the slot is drained when the active goal reaches a terminal status.
type GoalCoordinator struct {
	mu      sync.Mutex
	records map[string]*actionRecord

	transport Transport
	router    MessageRouter
	log       logging.Logger
	timeout   time.Duration
	now       func() time.Time
	seq       atomic.Uint64

	subMu       sync.RWMutex
	subscribers map[chan GoalStatusEvent]string
}

// NewGoalCoordinator creates a coordinator. timeout bounds how long a goal
// may go without a terminal status before its result is fetched anyway.
func NewGoalCoordinator(transport Transport, router MessageRouter, log logging.Logger, timeout time.Duration) *GoalCoordinator {
	return &GoalCoordinator{
		records:     make(map[string]*actionRecord),
		transport:   transport,
		router:      router,
		log:         log.WithField("component", "goals"),
		timeout:     timeout,
		now:         time.Now,
		subscribers: make(map[chan GoalStatusEvent]string),
	}
}

// ──────────────────────────── Status stream

// Subscribe returns a channel of status events for actionName, or for every
// action when actionName is empty, plus a function that ends the subscription.
// Slow readers lose events.
func (gc *GoalCoordinator) Subscribe(actionName string) (<-chan GoalStatusEvent, func()) {
	ch := make(chan GoalStatusEvent, 64)
	gc.subMu.Lock()
	gc.subscribers[ch] = actionName
	gc.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			gc.subMu.Lock()
			delete(gc.subscribers, ch)
			gc.subMu.Unlock()
			close(ch)
		})
	}
}

func (gc *GoalCoordinator) publish(ev GoalStatusEvent) {
	gc.subMu.RLock()
	defer gc.subMu.RUnlock()
	for ch, filter := range gc.subscribers {
		if filter != "" && filter != ev.ActionName {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// ──────────────────────────── Goals

// SendOrQueueActionGoal submits a goal for actionName, or, when the previous
// goal is still running, cancels it and parks this one in the pending slot
// (replacing whatever was parked there). The returned id is empty unless the
// goal was sent.
func (gc *GoalCoordinator) SendOrQueueActionGoal(actionName, actionType string, goal json.RawMessage, opts ...GoalOption) (Submission, string) {
	var o goalOptions
	for _, opt := range opts {
		opt(&o)
	}

	gc.mu.Lock()
	if rec, ok := gc.records[actionName]; ok && rec.busy() {
		replaced := rec.pending != nil
		rec.pending = &pendingGoal{actionType: actionType, goal: goal, onResult: o.onResult}
		prior, priorType, priorStatus := rec.goalID, rec.actionType, rec.status
		gc.mu.Unlock()

		if replaced {
			gc.log.Infof("Replacing queued goal on %s", actionName)
		}
		gc.log.Infof("Goal %s on %s is %s, canceling it and queuing the new goal", prior, actionName, priorStatus)
		gc.CancelActionGoal(actionName, priorType, prior)
		return SubmissionQueued, ""
	}

	if !gc.transport.IsConnected() {
		gc.mu.Unlock()
		gc.log.Warnf("Not connected, dropping goal for %s", actionName)
		return SubmissionDropped, ""
	}

	goalID := o.goalID
	if goalID == "" {
		goalID = rosbridge.NewGoalID()
	}
	gc.reserveLocked(actionName, actionType, goalID)
	gc.mu.Unlock()

	gc.submit(actionName, actionType, goal, goalID, o.onResult)
	return SubmissionSent, goalID
}

// reserveLocked points the record at a new goal before anything is sent, so a
// concurrent submission sees the action as busy.
func (gc *GoalCoordinator) reserveLocked(actionName, actionType, goalID string) {
	rec, ok := gc.records[actionName]
	if !ok {
		rec = &actionRecord{}
		gc.records[actionName] = rec
	}
	rec.actionType = actionType
	rec.goalID = goalID
	rec.status = rosbridge.StatusPending
}

type sendGoalArgs struct {
	GoalID rosbridge.GoalID `json:"goal_id"`
	Goal   json.RawMessage  `json:"goal"`
}

type goalIDArgs struct {
	GoalID rosbridge.GoalID `json:"goal_id"`
}

func (gc *GoalCoordinator) submit(actionName, actionType string, goal json.RawMessage, goalID string, onResult ResultFunc) {
	enc, ok := rosbridge.EncodeGoalUUID(goalID)
	if !ok {
		gc.log.Warnf("Goal id %q on %s is not a UUID, sending zero id", goalID, actionName)
	}
	if len(goal) == 0 {
		goal = json.RawMessage(`{}`)
	}

	// resolve guards result retrieval: first terminal status or the timeout,
	// whichever comes first.
	var resolve sync.Once
	fetch := func() {
		gc.GetActionResultViaService(actionName, actionType, goalID, onResult)
	}

	timer := time.AfterFunc(gc.timeout, func() {
		fired := false
		resolve.Do(func() { fired = true })
		if !fired {
			return
		}
		gc.log.Warnf("No terminal status for goal %s on %s after %s, fetching result and clearing all action state",
			goalID, actionName, gc.timeout)
		fetch()
		gc.ForceClearAllActionBusyLocks()
	})

	statusTopic := actionName + "/_action/status"
	gc.router.RegisterTopicHandler(statusTopic, goalsOwner, func(msg json.RawMessage) {
		if status, ok := rosbridge.ScanStatusList(msg, goalID); ok && status.IsTerminal() {
			resolve.Do(func() {
				timer.Stop()
				gc.log.Infof("Goal %s on %s finished: %s", goalID, actionName, status)
				fetch()
			})
		}
		gc.handleStatusUpdate(actionName, msg)
	})
	if err := gc.transport.Send(rosbridge.SubscribeMsg(statusTopic, rosbridge.TypeGoalStatusArray)); err != nil {
		gc.log.Errorf("Subscribe %s failed: %v", statusTopic, err)
	}

	callID := fmt.Sprintf("send_goal:%s:%s", actionName, goalID)
	gc.router.RegisterOneShotHandler(callID, func(raw json.RawMessage) {
		var resp rosbridge.Envelope
		if err := json.Unmarshal(raw, &resp); err == nil && resp.Result != nil && !*resp.Result {
			gc.log.Warnf("send_goal for %s failed: %s", actionName, string(resp.Values))
			return
		}
		gc.log.Debugf("send_goal response for %s: %s", goalID, string(raw))
	})

	args := sendGoalArgs{GoalID: rosbridge.GoalID{UUID: enc}, Goal: goal}
	err := gc.transport.Send(rosbridge.CallServiceMsg(callID, actionName+"/_action/send_goal", actionType+"_SendGoal", args))
	if err != nil {
		gc.router.RemoveOneShotHandler(callID)
		gc.log.Errorf("Sending goal %s on %s failed: %v", goalID, actionName, err)
		return
	}
	gc.log.Infof("Sent goal %s on %s (%s)", goalID, actionName, actionType)
}

// handleStatusUpdate stores the status of the action's current goal,
// publishes it, and dispatches the pending goal once the current one is done.
func (gc *GoalCoordinator) handleStatusUpdate(actionName string, msg json.RawMessage) {
	gc.mu.Lock()
	rec, ok := gc.records[actionName]
	if !ok || rec.goalID == "" {
		gc.mu.Unlock()
		return
	}
	status, found := rosbridge.ScanStatusList(msg, rec.goalID)
	if !found {
		gc.mu.Unlock()
		return
	}

	goalID := rec.goalID
	rec.status = status

	var next *pendingGoal
	var nextID string
	if status.IsTerminal() && rec.pending != nil {
		next = rec.pending
		rec.pending = nil
		if gc.transport.IsConnected() {
			nextID = rosbridge.NewGoalID()
			gc.reserveLocked(actionName, next.actionType, nextID)
		}
	}
	gc.mu.Unlock()

	gc.publish(GoalStatusEvent{ActionName: actionName, GoalID: goalID, Status: status})

	if next == nil {
		return
	}
	if nextID == "" {
		gc.log.Warnf("Not connected, dropping queued goal for %s", actionName)
		return
	}
	gc.log.Infof("Dispatching queued goal %s on %s", nextID, actionName)
	gc.submit(actionName, next.actionType, next.goal, nextID, next.onResult)
}

// CancelActionGoal asks the action server to cancel goalUUID. The record is
// not touched; the cancel shows up through the status stream.
func (gc *GoalCoordinator) CancelActionGoal(actionName, actionType, goalUUID string) {
	enc, ok := rosbridge.EncodeGoalUUID(goalUUID)
	if !ok {
		gc.log.Warnf("Cancel id %q on %s is not a UUID, sending zero id", goalUUID, actionName)
	}

	topic := actionName + "/cancel"
	if err := gc.transport.Send(rosbridge.AdvertiseMsg(topic, rosbridge.TypeGoalInfo)); err != nil {
		gc.log.Warnf("Cancel of %s on %s not sent: %v", goalUUID, actionName, err)
		return
	}
	msg := rosbridge.GoalInfo{
		Stamp:  rosbridge.TimeFrom(gc.now()),
		GoalID: rosbridge.GoalID{UUID: enc},
	}
	if err := gc.transport.Send(rosbridge.PublishMsg(topic, msg)); err != nil {
		gc.log.Warnf("Cancel of %s on %s not sent: %v", goalUUID, actionName, err)
		return
	}
	gc.log.Infof("Requested cancel of goal %s on %s (%s)", goalUUID, actionName, actionType)
}

// GetActionResultViaService calls the action's get_result service for
// goalUUID and hands the raw response to onResult. actionType must look like
// pkg/action/Name.
func (gc *GoalCoordinator) GetActionResultViaService(actionName, actionType, goalUUID string, onResult ResultFunc) {
	parts := strings.Split(actionType, "/")
	if len(parts) != 3 {
		gc.log.Errorf("Cannot derive result service from action type %q", actionType)
		return
	}
	if !gc.transport.IsConnected() {
		gc.log.Warnf("Not connected, skipping result of goal %s on %s", goalUUID, actionName)
		return
	}

	enc, ok := rosbridge.EncodeGoalUUID(goalUUID)
	if !ok {
		gc.log.Warnf("Result id %q on %s is not a UUID, sending zero id", goalUUID, actionName)
	}
	callID := fmt.Sprintf("get_result:%s:%s:%d", actionName, goalUUID, gc.seq.Add(1))
	gc.router.RegisterOneShotHandler(callID, func(raw json.RawMessage) {
		if onResult != nil {
			onResult(raw)
		}
	})

	service := actionName + "/_action/get_result"
	serviceType := parts[0] + "/action/" + parts[2] + "_GetResult"
	args := goalIDArgs{GoalID: rosbridge.GoalID{UUID: enc}}
	if err := gc.transport.Send(rosbridge.CallServiceMsg(callID, service, serviceType, args)); err != nil {
		gc.router.RemoveOneShotHandler(callID)
		gc.log.Warnf("get_result for %s on %s not sent: %v", goalUUID, actionName, err)
	}
}

// ForceClearAllActionBusyLocks forgets the goal, status and pending slot of
// every action.
func (gc *GoalCoordinator) ForceClearAllActionBusyLocks() {
	gc.mu.Lock()
	n := len(gc.records)
	gc.records = make(map[string]*actionRecord)
	gc.mu.Unlock()
	gc.log.Infof("Cleared goal state of %d action(s)", n)
}

// ──────────────────────────── Read side

// State returns the record of one action.
func (gc *GoalCoordinator) State(actionName string) (ActionState, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	rec, ok := gc.records[actionName]
	if !ok {
		return ActionState{}, false
	}
	return rec.state(actionName), true
}

// Snapshot returns every action record.
func (gc *GoalCoordinator) Snapshot() []ActionState {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	out := make([]ActionState, 0, len(gc.records))
	for name, rec := range gc.records {
		out = append(out, rec.state(name))
	}
	return out
}

func (r *actionRecord) state(name string) ActionState {
	return ActionState{
		ActionName: name,
		ActionType: r.actionType,
		GoalID:     r.goalID,
		Status:     r.status,
		HasPending: r.pending != nil,
	}
}
