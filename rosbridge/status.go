package rosbridge

import (
	"encoding/json"
	"time"
)

// GoalStatus is the numeric goal state reported on an action's status topic.
type GoalStatus int

// Status codes. CANCELED(1) is the label this client uses when it asked for
// the cancel itself; the numbering is kept exactly as the robot side emits it.
const (
	StatusPending    GoalStatus = 0
	StatusCanceled   GoalStatus = 1
	StatusActive     GoalStatus = 2
	StatusPreempted  GoalStatus = 3
	StatusSucceeded  GoalStatus = 4
	StatusAborted    GoalStatus = 5
	StatusRejected   GoalStatus = 6
	StatusPreempting GoalStatus = 7
	StatusRecalling  GoalStatus = 8
	StatusRecalled   GoalStatus = 9
	StatusLost       GoalStatus = 10
	StatusUnknown    GoalStatus = -1
)

var statusNames = map[GoalStatus]string{
	StatusPending:    "PENDING",
	StatusCanceled:   "CANCELED",
	StatusActive:     "ACTIVE",
	StatusPreempted:  "PREEMPTED",
	StatusSucceeded:  "SUCCEEDED",
	StatusAborted:    "ABORTED",
	StatusRejected:   "REJECTED",
	StatusPreempting: "PREEMPTING",
	StatusRecalling:  "RECALLING",
	StatusRecalled:   "RECALLED",
	StatusLost:       "LOST",
}

// GoalStatusFromCode maps a wire code to a GoalStatus; unknown codes map to StatusUnknown.
func GoalStatusFromCode(code int) GoalStatus {
	s := GoalStatus(code)
	if _, ok := statusNames[s]; ok {
		return s
	}
	return StatusUnknown
}

func (s GoalStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether no further progress can happen for the goal.
func (s GoalStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusCanceled, StatusAborted, StatusRejected:
		return true
	}
	return false
}

func (s GoalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ──────────────────────────── action_msgs payloads

// Time mirrors builtin_interfaces/msg/Time.
type Time struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec"`
}

// TimeFrom converts a wall clock time to a ROS stamp.
func TimeFrom(t time.Time) Time {
	return Time{Sec: t.Unix(), Nanosec: int64(t.Nanosecond())}
}

// GoalInfo mirrors action_msgs/msg/GoalInfo; it is also the cancel message body.
type GoalInfo struct {
	Stamp  Time   `json:"stamp"`
	GoalID GoalID `json:"goal_id"`
}

type goalStatusEntry struct {
	GoalInfo GoalInfo `json:"goal_info"`
	Status   int      `json:"status"`
}

type goalStatusArray struct {
	StatusList []goalStatusEntry `json:"status_list"`
}

// ScanStatusList looks up goalID inside a GoalStatusArray payload. Ids are
// compared by their stringified byte arrays. Any decode error reports not found.
func ScanStatusList(msg json.RawMessage, goalID string) (GoalStatus, bool) {
	var arr goalStatusArray
	if err := json.Unmarshal(msg, &arr); err != nil {
		return StatusUnknown, false
	}

	target, _ := EncodeGoalUUID(goalID)
	want := target.String()
	for _, entry := range arr.StatusList {
		if entry.GoalInfo.GoalID.UUID.String() == want {
			return GoalStatusFromCode(entry.Status), true
		}
	}
	return StatusUnknown, false
}
