package rosbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ──────────────────────────── geometry_msgs

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Point = Vector3

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// QuaternionFromYaw builds a rotation about Z.
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}

// Yaw extracts yaw (radians) from a quaternion.
func (q Quaternion) Yaw() float64 {
	siny := 2.0 * (q.W*q.Z + q.X*q.Y)
	cosy := 1.0 - 2.0*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(siny, cosy)
}

type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// PlanarTwist builds the Twist a differential or holonomic base expects.
func PlanarTwist(linearX, linearY, angularZ float64) Twist {
	return Twist{
		Linear:  Vector3{X: linearX, Y: linearY},
		Angular: Vector3{Z: angularZ},
	}
}

// ──────────────────────────── std_msgs

type String struct {
	Data string `json:"data"`
}

type Bool struct {
	Data bool `json:"data"`
}

type Int32 struct {
	Data int32 `json:"data"`
}

type Float64 struct {
	Data float64 `json:"data"`
}

type Empty struct{}

// Type names for the payloads above.
const (
	TypeVector3     = "geometry_msgs/msg/Vector3"
	TypePoint       = "geometry_msgs/msg/Point"
	TypeQuaternion  = "geometry_msgs/msg/Quaternion"
	TypePose        = "geometry_msgs/msg/Pose"
	TypePoseStamped = "geometry_msgs/msg/PoseStamped"
	TypeString      = "std_msgs/msg/String"
	TypeBool        = "std_msgs/msg/Bool"
	TypeInt32       = "std_msgs/msg/Int32"
	TypeFloat64     = "std_msgs/msg/Float64"
	TypeEmpty       = "std_msgs/msg/Empty"
)

// ErrBadPayload is returned when a message does not fit its declared type.
var ErrBadPayload = errors.New("payload does not match message type")

var payloads = map[string]func() interface{}{
	TypeVector3:     func() interface{} { return new(Vector3) },
	TypePoint:       func() interface{} { return new(Point) },
	TypeQuaternion:  func() interface{} { return new(Quaternion) },
	TypePose:        func() interface{} { return new(Pose) },
	TypePoseStamped: func() interface{} { return new(PoseStamped) },
	TypeTwist:       func() interface{} { return new(Twist) },
	TypeString:      func() interface{} { return new(String) },
	TypeBool:        func() interface{} { return new(Bool) },
	TypeInt32:       func() interface{} { return new(Int32) },
	TypeFloat64:     func() interface{} { return new(Float64) },
	TypeEmpty:       func() interface{} { return new(Empty) },
}

// CheckPayload decodes msg strictly against msgType when it is one of the
// types above. Other types are passed through unchecked; rosbridge reports
// their mismatches itself.
func CheckPayload(msgType string, msg json.RawMessage) error {
	newPayload, ok := payloads[msgType]
	if !ok {
		return nil
	}
	if len(bytes.TrimSpace(msg)) == 0 {
		msg = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(newPayload()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, msgType, err)
	}
	return nil
}
