package robot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ros_teleop_app/config"
	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

func testBindings() []config.Binding {
	return []config.Binding{
		{Name: "button_a", Action: &config.ActionBinding{
			Name: testAction, Type: testActionType, Goal: map[string]interface{}{"trajectory_id": 3},
		}},
		{Name: "button_b", Service: &config.ServiceBinding{Name: resetService, Type: emptySrv}},
		{Name: "button_x", Publish: &config.PublishBinding{
			Topic: "/led", Type: "std_msgs/msg/Bool", Msg: map[string]interface{}{"data": true},
		}},
	}
}

func newTestBindings(t *testing.T, onResult BindingResultFunc) (*Bindings, *fakeTransport, *rosbridge.Router) {
	t.Helper()
	tr := newFakeTransport()
	router := rosbridge.NewRouter()
	log := logging.NewNop()
	goals := NewGoalCoordinator(tr, router, log, time.Minute)
	services := NewServiceQueue(tr, router, log, time.Minute)
	return NewBindings(testBindings(), goals, services, tr, log, onResult), tr, router
}

func TestBindingAction(t *testing.T) {
	b, tr, _ := newTestBindings(t, nil)

	trig, err := b.Trigger("button_a")
	require.NoError(t, err)
	assert.Equal(t, BindingAction, trig.Kind)
	assert.Equal(t, SubmissionSent, trig.Submission)
	assert.NotEmpty(t, trig.GoalID)

	calls := tr.calls(sendGoalService)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"trajectory_id":3}`, string(decodeGoalArgs(t, calls[0]).Goal))

	// Pressing again while the goal runs queues it.
	trig, err = b.Trigger("button_a")
	require.NoError(t, err)
	assert.Equal(t, SubmissionQueued, trig.Submission)
}

func TestBindingServiceReportsResult(t *testing.T) {
	got := make(chan string, 1)
	b, tr, router := newTestBindings(t, func(binding string, _ json.RawMessage) { got <- binding })

	trig, err := b.Trigger("button_b")
	require.NoError(t, err)
	assert.Equal(t, BindingService, trig.Kind)
	assert.Equal(t, resetService, trig.Target)

	call := tr.calls(resetService)[0]
	router.Dispatch(serviceResponse(call.ID, resetService, `{}`, true))
	assert.Equal(t, "button_b", <-got)
}

func TestBindingPublish(t *testing.T) {
	b, tr, _ := newTestBindings(t, nil)

	trig, err := b.Trigger("button_x")
	require.NoError(t, err)
	assert.Equal(t, BindingPublish, trig.Kind)

	msgs := tr.publishedOn("/led")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"data":true}`, string(msgs[0]))
}

func TestBindingPublishOffline(t *testing.T) {
	b, tr, _ := newTestBindings(t, nil)
	tr.setConnected(false)

	_, err := b.Trigger("button_x")
	assert.ErrorIs(t, err, rosbridge.ErrNotConnected)
}

func TestBindingUnknown(t *testing.T) {
	b, _, _ := newTestBindings(t, nil)
	_, err := b.Trigger("button_z")
	assert.ErrorIs(t, err, ErrUnknownBinding)
	assert.ElementsMatch(t, []string{"button_a", "button_b", "button_x"}, b.Names())
}

func TestBindingPublishRejectsMismatchedPayload(t *testing.T) {
	tr := newFakeTransport()
	router := rosbridge.NewRouter()
	log := logging.NewNop()
	bindings := []config.Binding{
		{Name: "led", Publish: &config.PublishBinding{
			Topic: "/led", Type: rosbridge.TypeBool, Msg: map[string]interface{}{"data": "on"},
		}},
	}
	b := NewBindings(bindings, NewGoalCoordinator(tr, router, log, time.Minute), NewServiceQueue(tr, router, log, time.Minute), tr, log, nil)

	_, err := b.Trigger("led")
	assert.ErrorIs(t, err, rosbridge.ErrBadPayload)
	assert.Empty(t, tr.publishedOn("/led"))
}
