package rosbridge

import "encoding/json"

// ──────────────────────────── Rosbridge JSON protocol helpers

// Op codes of the rosbridge v2 protocol used by this client.
const (
	OpAdvertise        = "advertise"
	OpUnadvertise      = "unadvertise"
	OpSubscribe        = "subscribe"
	OpUnsubscribe      = "unsubscribe"
	OpPublish          = "publish"
	OpCallService      = "call_service"
	OpServiceResponse  = "service_response"
	OpAdvertiseService = "advertise_service"
	OpStatus           = "status"
)

// Envelope is the common shape of every rosbridge message. Only the fields
// needed for routing are decoded; the rest stays in the raw bytes.
type Envelope struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Service string          `json:"service,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Result  *bool           `json:"result,omitempty"`
}

type topicMsg struct {
	Op    string      `json:"op"`
	ID    string      `json:"id,omitempty"`
	Topic string      `json:"topic"`
	Type  string      `json:"type,omitempty"`
	Msg   interface{} `json:"msg,omitempty"`
}

type serviceMsg struct {
	Op      string      `json:"op"`
	ID      string      `json:"id,omitempty"`
	Service string      `json:"service"`
	Type    string      `json:"type,omitempty"`
	Args    interface{} `json:"args,omitempty"`
	Values  interface{} `json:"values,omitempty"`
	Result  *bool       `json:"result,omitempty"`
}

func marshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// orEmpty substitutes {} for nil payloads so rosbridge never sees null.
func orEmpty(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return struct{}{}
	case json.RawMessage:
		if len(t) == 0 {
			return struct{}{}
		}
	}
	return v
}

// AdvertiseMsg creates a rosbridge advertise message.
func AdvertiseMsg(topic, msgType string) []byte {
	return marshal(topicMsg{Op: OpAdvertise, Topic: topic, Type: msgType})
}

// UnadvertiseMsg creates a rosbridge unadvertise message.
func UnadvertiseMsg(topic string) []byte {
	return marshal(topicMsg{Op: OpUnadvertise, Topic: topic})
}

// SubscribeMsg creates a rosbridge subscribe message.
func SubscribeMsg(topic, msgType string) []byte {
	return marshal(topicMsg{Op: OpSubscribe, Topic: topic, Type: msgType})
}

// UnsubscribeMsg creates a rosbridge unsubscribe message.
func UnsubscribeMsg(topic string) []byte {
	return marshal(topicMsg{Op: OpUnsubscribe, Topic: topic})
}

// PublishMsg creates a rosbridge publish message.
func PublishMsg(topic string, data interface{}) []byte {
	return marshal(topicMsg{Op: OpPublish, Topic: topic, Msg: orEmpty(data)})
}

// CallServiceMsg creates a rosbridge call_service message. A nil args value
// is sent as an empty object.
func CallServiceMsg(id, service, serviceType string, args interface{}) []byte {
	return marshal(serviceMsg{Op: OpCallService, ID: id, Service: service, Type: serviceType, Args: orEmpty(args)})
}

// AdvertiseServiceMsg creates a rosbridge advertise_service message.
func AdvertiseServiceMsg(service, serviceType string) []byte {
	return marshal(serviceMsg{Op: OpAdvertiseService, Service: service, Type: serviceType})
}

// ServiceResponseMsg answers a call_service addressed to an advertised service.
func ServiceResponseMsg(id, service string, values interface{}, ok bool) []byte {
	return marshal(serviceMsg{Op: OpServiceResponse, ID: id, Service: service, Values: orEmpty(values), Result: &ok})
}

// ──────────────────────────── Well-known message types

const (
	TypeGoalStatusArray = "action_msgs/msg/GoalStatusArray"
	TypeGoalInfo        = "action_msgs/msg/GoalInfo"
	TypeTwist           = "geometry_msgs/msg/Twist"
	TypeTrigger         = "std_srvs/srv/Trigger"
)
