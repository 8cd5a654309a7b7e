package robot

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

type pendingRequest struct {
	serviceType string
	request     json.RawMessage
	onResult    ResultFunc
}

type serviceRecord struct {
	busy          bool
	lastRequestID string
	pending       *pendingRequest
}

// ServiceState is a read-only view of one service record.
type ServiceState struct {
	ServiceName   string `json:"service_name"`
	Busy          bool   `json:"busy"`
	LastRequestID string `json:"last_request_id,omitempty"`
	HasPending    bool   `json:"has_pending"`
}

// ServiceQueue allows one in-flight call per service name. A call made while
// the service is busy waits in a depth-1 pending slot; a newer call replaces
// it.
type ServiceQueue struct {
	mu      sync.Mutex
	records map[string]*serviceRecord

	transport Transport
	router    MessageRouter
	log       logging.Logger
	timeout   time.Duration
}

// NewServiceQueue creates a queue. timeout bounds the wait for a response;
// an expired call resets every service.
func NewServiceQueue(transport Transport, router MessageRouter, log logging.Logger, timeout time.Duration) *ServiceQueue {
	return &ServiceQueue{
		records:   make(map[string]*serviceRecord),
		transport: transport,
		router:    router,
		log:       log.WithField("component", "services"),
		timeout:   timeout,
	}
}

// SendOrQueueServiceRequest calls serviceName, or parks the request if a call
// to the same service is still in flight.
func (q *ServiceQueue) SendOrQueueServiceRequest(serviceName, serviceType string, request json.RawMessage, onResult ResultFunc) Submission {
	q.mu.Lock()
	rec, ok := q.records[serviceName]
	if !ok {
		rec = &serviceRecord{}
		q.records[serviceName] = rec
	}
	if rec.busy {
		if rec.pending != nil {
			q.log.Debugf("Replacing queued request for %s", serviceName)
		}
		rec.pending = &pendingRequest{serviceType: serviceType, request: request, onResult: onResult}
		inFlight := rec.lastRequestID
		q.mu.Unlock()
		q.log.Debugf("%s busy with %s, request queued", serviceName, inFlight)
		return SubmissionQueued
	}
	if !q.transport.IsConnected() {
		q.mu.Unlock()
		q.log.Warnf("Not connected, dropping request for %s", serviceName)
		return SubmissionDropped
	}

	id := fmt.Sprintf("call_service:%s:%s", serviceName, uuid.NewString())
	rec.busy = true
	rec.lastRequestID = id
	q.mu.Unlock()

	if !q.send(serviceName, serviceType, request, id, onResult) {
		return SubmissionDropped
	}
	return SubmissionSent
}

func (q *ServiceQueue) send(serviceName, serviceType string, request json.RawMessage, id string, onResult ResultFunc) bool {
	timer := time.AfterFunc(q.timeout, func() { q.expire(serviceName, id) })

	q.router.RegisterOneShotHandler(id, func(raw json.RawMessage) {
		timer.Stop()
		q.release(serviceName, id)
		if onResult != nil {
			onResult(raw)
		}
		q.dispatchPending(serviceName)
	})

	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	if err := q.transport.Send(rosbridge.CallServiceMsg(id, serviceName, serviceType, request)); err != nil {
		timer.Stop()
		q.router.RemoveOneShotHandler(id)
		q.log.Errorf("Calling %s failed: %v", serviceName, err)
		if q.release(serviceName, id) {
			q.dispatchPending(serviceName)
		}
		return false
	}
	q.log.Debugf("Called %s (%s) as %s", serviceName, serviceType, id)
	return true
}

// release clears the busy flag if id is still the service's outstanding
// request. A response to an older request leaves a newer call untouched.
func (q *ServiceQueue) release(serviceName, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[serviceName]
	if !ok || !rec.busy || rec.lastRequestID != id {
		return false
	}
	rec.busy = false
	return true
}

// expire handles a call that got no response in time. Like the goal timeout
// it clears the busy state of every service, not only the expired one; parked
// requests survive the clear and are dispatched right after it.
func (q *ServiceQueue) expire(serviceName, id string) {
	q.mu.Lock()
	rec, ok := q.records[serviceName]
	if !ok || !rec.busy || rec.lastRequestID != id {
		q.mu.Unlock()
		return
	}
	parked := make(map[string]*pendingRequest)
	for name, r := range q.records {
		if r.pending != nil {
			parked[name] = r.pending
		}
	}
	n := len(q.records)
	q.records = make(map[string]*serviceRecord)
	q.mu.Unlock()

	q.log.Warnf("No response to %s within %s, cleared state of %d service(s)", id, q.timeout, n)
	for name, next := range parked {
		q.log.Debugf("Dispatching queued request for %s", name)
		q.SendOrQueueServiceRequest(name, next.serviceType, next.request, next.onResult)
	}
}

// dispatchPending sends the parked request of an idle service.
func (q *ServiceQueue) dispatchPending(serviceName string) {
	q.mu.Lock()
	rec, ok := q.records[serviceName]
	if !ok || rec.busy || rec.pending == nil {
		q.mu.Unlock()
		return
	}
	next := rec.pending
	rec.pending = nil
	q.mu.Unlock()

	q.log.Debugf("Dispatching queued request for %s", serviceName)
	q.SendOrQueueServiceRequest(serviceName, next.serviceType, next.request, next.onResult)
}

// ForceClearAllServiceBusyLocks forgets every busy flag and pending request.
func (q *ServiceQueue) ForceClearAllServiceBusyLocks() {
	q.mu.Lock()
	n := len(q.records)
	q.records = make(map[string]*serviceRecord)
	q.mu.Unlock()
	q.log.Infof("Cleared state of %d service(s)", n)
}

// State returns the record of one service.
func (q *ServiceQueue) State(serviceName string) (ServiceState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[serviceName]
	if !ok {
		return ServiceState{}, false
	}
	return rec.state(serviceName), true
}

// Snapshot returns every service record.
func (q *ServiceQueue) Snapshot() []ServiceState {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ServiceState, 0, len(q.records))
	for name, rec := range q.records {
		out = append(out, rec.state(name))
	}
	return out
}

func (r *serviceRecord) state(name string) ServiceState {
	return ServiceState{
		ServiceName:   name,
		Busy:          r.busy,
		LastRequestID: r.lastRequestID,
		HasPending:    r.pending != nil,
	}
}
