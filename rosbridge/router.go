package rosbridge

import (
	"encoding/json"
	"sort"
	"sync"
)

// Handler consumes a routed rosbridge payload.
type Handler func(msg json.RawMessage)

// Router dispatches inbound envelopes. A message carrying an id with a
// registered one-shot handler goes there (and the handler is dropped); a
// call_service goes to the handler of the advertised service; a publish goes
// to every handler of its topic; anything left over goes to the fallback.
//
// Topic handlers are keyed by owner; owners of one topic never replace each
// other.
//
// Topic handlers receive the "msg" payload. All other handlers receive the
// whole envelope.
type Router struct {
	mu       sync.Mutex
	topics   map[string]map[string]Handler
	services map[string]Handler
	oneShot  map[string]Handler
	fallback Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		topics:   make(map[string]map[string]Handler),
		services: make(map[string]Handler),
		oneShot:  make(map[string]Handler),
	}
}

// RegisterTopicHandler installs h as owner's handler for topic, replacing
// only that owner's previous handler.
func (r *Router) RegisterTopicHandler(topic, owner string, h Handler) {
	r.mu.Lock()
	hs, ok := r.topics[topic]
	if !ok {
		hs = make(map[string]Handler)
		r.topics[topic] = hs
	}
	hs[owner] = h
	r.mu.Unlock()
}

// RemoveTopicHandler drops owner's handler for topic and returns how many
// handlers of other owners remain on it.
func (r *Router) RemoveTopicHandler(topic, owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.topics[topic]
	if !ok {
		return 0
	}
	delete(hs, owner)
	if len(hs) == 0 {
		delete(r.topics, topic)
	}
	return len(hs)
}

// RegisterServiceHandler installs h for inbound call_service requests to
// service. h receives the whole envelope.
func (r *Router) RegisterServiceHandler(service string, h Handler) {
	r.mu.Lock()
	r.services[service] = h
	r.mu.Unlock()
}

// RegisterOneShotHandler installs h for the next message carrying id.
func (r *Router) RegisterOneShotHandler(id string, h Handler) {
	r.mu.Lock()
	r.oneShot[id] = h
	r.mu.Unlock()
}

// RemoveOneShotHandler forgets a pending one-shot handler.
func (r *Router) RemoveOneShotHandler(id string) {
	r.mu.Lock()
	delete(r.oneShot, id)
	r.mu.Unlock()
}

// SetFallback installs the handler for unmatched messages.
func (r *Router) SetFallback(h Handler) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// PendingOneShots returns the number of one-shot handlers still waiting.
func (r *Router) PendingOneShots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.oneShot)
}

// Dispatch routes one raw envelope. It reports whether a handler took it.
// Handlers run on the caller's goroutine without the router lock held;
// topic handlers run in owner order.
func (r *Router) Dispatch(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}

	r.mu.Lock()
	if env.ID != "" {
		if h, ok := r.oneShot[env.ID]; ok {
			delete(r.oneShot, env.ID)
			r.mu.Unlock()
			h(json.RawMessage(raw))
			return true
		}
	}
	if env.Op == OpCallService {
		if h, ok := r.services[env.Service]; ok {
			r.mu.Unlock()
			h(json.RawMessage(raw))
			return true
		}
	}
	var topicHandlers []Handler
	if env.Topic != "" && env.Op == OpPublish {
		owners := make([]string, 0, len(r.topics[env.Topic]))
		for owner := range r.topics[env.Topic] {
			owners = append(owners, owner)
		}
		sort.Strings(owners)
		for _, owner := range owners {
			topicHandlers = append(topicHandlers, r.topics[env.Topic][owner])
		}
	}
	fallback := r.fallback
	r.mu.Unlock()

	if len(topicHandlers) > 0 {
		for _, h := range topicHandlers {
			h(env.Msg)
		}
		return true
	}
	if fallback == nil {
		return false
	}
	fallback(json.RawMessage(raw))
	return true
}
