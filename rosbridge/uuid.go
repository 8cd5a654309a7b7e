package rosbridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GoalUUID is the 16 element uint8 array ROS2 uses for unique_identifier_msgs/UUID.
// It marshals as a JSON number array, never as base64.
type GoalUUID [16]uint8

// GoalID mirrors unique_identifier_msgs/msg/UUID.
type GoalID struct {
	UUID GoalUUID `json:"uuid"`
}

// NewGoalID returns a fresh random goal id in its text form.
func NewGoalID() string {
	return uuid.NewString()
}

// EncodeGoalUUID converts a textual UUID into the 16 byte wire form: the high
// 64 bits then the low 64 bits, big-endian. Input that does not parse degrades
// to sixteen zero bytes and ok=false; it never fails.
func EncodeGoalUUID(s string) (id GoalUUID, ok bool) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GoalUUID{}, false
	}
	return GoalUUID(u), true
}

// String renders the byte array the way it appears on the wire, e.g. "[1,2,...]".
// Status scanning compares ids in this form.
func (g GoalUUID) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, b := range g {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	sb.WriteByte(']')
	return sb.String()
}

// UUID returns the textual form of the id.
func (g GoalUUID) UUID() string {
	return uuid.UUID(g).String()
}

// UnmarshalJSON accepts both encodings rosbridge uses for uint8 arrays: a
// plain number array or a base64 string.
func (g *GoalUUID) UnmarshalJSON(data []byte) error {
	var out GoalUUID

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return err
		}
		if len(raw) != len(out) {
			return fmt.Errorf("goal uuid must have 16 bytes, got %d", len(raw))
		}
		copy(out[:], raw)
		*g = out
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	if len(nums) != len(out) {
		return fmt.Errorf("goal uuid must have 16 elements, got %d", len(nums))
	}
	for i, n := range nums {
		// signed bytes from JVM-side producers wrap into 0..255
		out[i] = uint8(n)
	}
	*g = out
	return nil
}
