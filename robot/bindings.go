package robot

import (
	"encoding/json"
	"errors"
	"fmt"

	"ros_teleop_app/config"
	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

// ErrUnknownBinding is returned by Trigger for a name with no binding.
var ErrUnknownBinding = errors.New("unknown binding")

// Binding kinds.
const (
	BindingAction  = "action"
	BindingService = "service"
	BindingPublish = "publish"
)

// Trigger describes what pressing a binding did.
type Trigger struct {
	Binding    string     `json:"binding"`
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	Submission Submission `json:"submission"`
	GoalID     string     `json:"goal_id,omitempty"`
}

// BindingResultFunc receives the result of a binding's action or service.
type BindingResultFunc func(binding string, result json.RawMessage)

// Bindings executes the controller button bindings from the config file.
type Bindings struct {
	byName   map[string]config.Binding
	goals    *GoalCoordinator
	services *ServiceQueue
	pub      Publisher
	log      logging.Logger
	onResult BindingResultFunc
}

// NewBindings indexes bindings by name. onResult may be nil.
func NewBindings(bindings []config.Binding, goals *GoalCoordinator, services *ServiceQueue, pub Publisher, log logging.Logger, onResult BindingResultFunc) *Bindings {
	byName := make(map[string]config.Binding, len(bindings))
	for _, b := range bindings {
		byName[b.Name] = b
	}
	return &Bindings{
		byName:   byName,
		goals:    goals,
		services: services,
		pub:      pub,
		log:      log.WithField("component", "bindings"),
		onResult: onResult,
	}
}

// Names lists the configured binding names.
func (b *Bindings) Names() []string {
	out := make([]string, 0, len(b.byName))
	for name := range b.byName {
		out = append(out, name)
	}
	return out
}

// Trigger runs the binding called name.
func (b *Bindings) Trigger(name string) (Trigger, error) {
	binding, ok := b.byName[name]
	if !ok {
		return Trigger{}, fmt.Errorf("%w: %q", ErrUnknownBinding, name)
	}

	report := func(raw json.RawMessage) {
		if b.onResult != nil {
			b.onResult(name, raw)
		}
	}

	switch {
	case binding.Action != nil:
		a := binding.Action
		goal, err := toRaw(a.Goal)
		if err != nil {
			return Trigger{}, fmt.Errorf("binding %q: encode goal: %w", name, err)
		}
		sub, goalID := b.goals.SendOrQueueActionGoal(a.Name, a.Type, goal, WithResultCallback(report))
		b.log.Infof("Binding %s -> goal on %s: %s", name, a.Name, sub)
		return Trigger{Binding: name, Kind: BindingAction, Target: a.Name, Submission: sub, GoalID: goalID}, nil

	case binding.Service != nil:
		s := binding.Service
		req, err := toRaw(s.Request)
		if err != nil {
			return Trigger{}, fmt.Errorf("binding %q: encode request: %w", name, err)
		}
		sub := b.services.SendOrQueueServiceRequest(s.Name, s.Type, req, report)
		b.log.Infof("Binding %s -> call %s: %s", name, s.Name, sub)
		return Trigger{Binding: name, Kind: BindingService, Target: s.Name, Submission: sub}, nil

	case binding.Publish != nil:
		p := binding.Publish
		msg, err := toRaw(p.Msg)
		if err != nil {
			return Trigger{}, fmt.Errorf("binding %q: encode message: %w", name, err)
		}
		if err := rosbridge.CheckPayload(p.Type, msg); err != nil {
			return Trigger{}, fmt.Errorf("binding %q: %w", name, err)
		}
		if err := b.pub.Publish(p.Topic, p.Type, msg); err != nil {
			return Trigger{}, fmt.Errorf("binding %q: publish %s: %w", name, p.Topic, err)
		}
		return Trigger{Binding: name, Kind: BindingPublish, Target: p.Topic, Submission: SubmissionSent}, nil
	}
	return Trigger{}, fmt.Errorf("binding %q has no target", name)
}

func toRaw(m map[string]interface{}) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}
