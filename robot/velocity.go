package robot

import (
	"math"
	"sync"
	"time"

	"ros_teleop_app/logging"
	"ros_teleop_app/rosbridge"
)

// Publisher publishes a message on a topic, advertising it first if needed.
type Publisher interface {
	Publish(topic, msgType string, msg interface{}) error
	IsConnected() bool
}

// VelocityPublisher turns joystick axes into Twist messages on a fixed tick.
// Only changes are published, so an idle stick costs nothing on the wire.
type VelocityPublisher struct {
	mu      sync.Mutex
	pub     Publisher
	log     logging.Logger
	topic   string
	period  time.Duration
	maxLin  float64
	maxAng  float64
	enabled bool

	desired rosbridge.Twist
	last    rosbridge.Twist
	sent    bool

	stopCh chan struct{}
	done   chan struct{}
}

// NewVelocityPublisher creates a publisher for topic at rateHz.
func NewVelocityPublisher(pub Publisher, log logging.Logger, topic string, rateHz int, maxLinear, maxAngular float64) *VelocityPublisher {
	if rateHz <= 0 {
		rateHz = 20
	}
	return &VelocityPublisher{
		pub:    pub,
		log:    log.WithField("component", "velocity"),
		topic:  topic,
		period: time.Second / time.Duration(rateHz),
		maxLin: maxLinear,
		maxAng: maxAngular,
	}
}

// SetJoystick sets the desired velocity from normalized axes in [-1, 1].
// Values outside the range are clamped.
func (v *VelocityPublisher) SetJoystick(linearX, linearY, angularZ float64) {
	twist := rosbridge.PlanarTwist(
		clamp(linearX)*v.maxLin,
		clamp(linearY)*v.maxLin,
		clamp(angularZ)*v.maxAng,
	)
	v.mu.Lock()
	v.desired = twist
	v.mu.Unlock()
}

// Halt zeroes the desired velocity.
func (v *VelocityPublisher) Halt() {
	v.mu.Lock()
	v.desired = rosbridge.Twist{}
	v.mu.Unlock()
}

// Desired returns the velocity that the next tick will publish.
func (v *VelocityPublisher) Desired() rosbridge.Twist {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.desired
}

// SetEnabled gates publishing. Disabling also forgets the last sent twist so
// the first tick after re-enabling always publishes.
func (v *VelocityPublisher) SetEnabled(enabled bool) {
	v.mu.Lock()
	v.enabled = enabled
	if !enabled {
		v.sent = false
	}
	v.mu.Unlock()
}

// Start runs the publish loop until Stop.
func (v *VelocityPublisher) Start() {
	v.mu.Lock()
	if v.stopCh != nil {
		v.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	v.stopCh, v.done = stop, done
	v.mu.Unlock()

	ticker := time.NewTicker(v.period)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				v.Tick()
			}
		}
	}()
}

// Stop ends the publish loop and waits for it to exit.
func (v *VelocityPublisher) Stop() {
	v.mu.Lock()
	stop, done := v.stopCh, v.done
	v.stopCh, v.done = nil, nil
	v.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Tick publishes the desired twist if it changed since the last publish.
func (v *VelocityPublisher) Tick() {
	v.mu.Lock()
	if !v.enabled || v.topic == "" {
		v.mu.Unlock()
		return
	}
	desired := v.desired
	if v.sent && desired == v.last {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	if !v.pub.IsConnected() {
		return
	}
	if err := v.pub.Publish(v.topic, rosbridge.TypeTwist, desired); err != nil {
		v.log.Warnf("Publishing %s failed: %v", v.topic, err)
		return
	}

	v.mu.Lock()
	v.last = desired
	v.sent = true
	v.mu.Unlock()
}

func clamp(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(-1, math.Min(1, x))
}
