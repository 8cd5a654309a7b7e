package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"ros_teleop_app/robot"
	"ros_teleop_app/rosbridge"
)

// ──────────────────── Link ────────────────────

// RobotStatus handles GET /api/status
func (s *Server) RobotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, s.Robot.Status())
}

type connectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Connect handles POST /api/connect. Host and port are optional; the dial
// keeps retrying in the background if it fails.
func (s *Server) Connect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		jsonError(w, "invalid port", http.StatusBadRequest)
		return
	}

	if err := s.Robot.Connect(req.Host, req.Port); err != nil {
		s.Log.Warnf("Connect failed: %v", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.Log.Infof("Connected to %s", s.Robot.Client.URL())
	jsonOK(w, map[string]string{"status": "connected", "url": s.Robot.Client.URL()})
}

// Disconnect handles POST /api/disconnect
func (s *Server) Disconnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.Robot.Disconnect()
	jsonOK(w, map[string]string{"status": "disconnected"})
}

// ClearAll handles POST /api/recovery/clear
func (s *Server) ClearAll(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.Robot.ClearAll()
	jsonOK(w, map[string]string{"status": "cleared"})
}

// ──────────────────── Topics ────────────────────

type topicRequest struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Msg   json.RawMessage `json:"msg"`
}

func (s *Server) readTopic(w http.ResponseWriter, r *http.Request, needType bool) (topicRequest, bool) {
	var req topicRequest
	if !requirePost(w, r) {
		return req, false
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.Topic == "" || (needType && req.Type == "") {
		jsonError(w, "topic and type are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// SubscribeTopic handles POST /api/topics/subscribe
func (s *Server) SubscribeTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readTopic(w, r, true)
	if !ok {
		return
	}
	if err := s.Robot.SubscribeTopic(req.Topic, req.Type); err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonOK(w, map[string]string{"status": "subscribed", "topic": req.Topic})
}

// UnsubscribeTopic handles POST /api/topics/unsubscribe
func (s *Server) UnsubscribeTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readTopic(w, r, false)
	if !ok {
		return
	}
	if err := s.Robot.UnsubscribeTopic(req.Topic); err != nil && !errors.Is(err, rosbridge.ErrNotConnected) {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonOK(w, map[string]string{"status": "unsubscribed", "topic": req.Topic})
}

// PublishTopic handles POST /api/topics/publish
func (s *Server) PublishTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readTopic(w, r, true)
	if !ok {
		return
	}
	if err := s.Robot.Publish(req.Topic, req.Type, req.Msg); err != nil {
		jsonError(w, err.Error(), errorCode(err))
		return
	}
	jsonOK(w, map[string]string{"status": "published", "topic": req.Topic})
}

// ──────────────────── Controller ────────────────────

// PressButton handles POST /api/buttons/press
func (s *Server) PressButton(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trig, err := s.Robot.Press(req.Name)
	if err != nil {
		jsonError(w, err.Error(), errorCode(err))
		return
	}
	jsonStatus(w, submissionCode(trig.Submission), trig)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, rosbridge.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, robot.ErrUnknownBinding), errors.Is(err, robot.ErrNoGoal):
		return http.StatusNotFound
	case errors.Is(err, rosbridge.ErrBadPayload):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
