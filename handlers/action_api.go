package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ros_teleop_app/robot"
)

// ──────────────────── Actions ────────────────────

type goalRequest struct {
	Action string          `json:"action"`
	Type   string          `json:"type"`
	GoalID string          `json:"goal_id,omitempty"`
	Goal   json.RawMessage `json:"goal"`
}

type goalResponse struct {
	Submission robot.Submission `json:"submission"`
	GoalID     string           `json:"goal_id,omitempty"`
}

func (s *Server) readGoal(w http.ResponseWriter, r *http.Request, needType bool) (goalRequest, bool) {
	var req goalRequest
	if !requirePost(w, r) {
		return req, false
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.Action == "" || (needType && req.Type == "") {
		jsonError(w, "action and type are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// SendGoal handles POST /api/actions/goal. A goal sent while another one runs
// cancels it and is answered with 202.
func (s *Server) SendGoal(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readGoal(w, r, true)
	if !ok {
		return
	}

	sub, goalID := s.Robot.SendGoal(req.Action, req.Type, req.Goal, req.GoalID)
	if sub == robot.SubmissionDropped {
		jsonError(w, "not connected", http.StatusServiceUnavailable)
		return
	}
	jsonStatus(w, submissionCode(sub), goalResponse{Submission: sub, GoalID: goalID})
}

// CancelGoal handles POST /api/actions/cancel. Without goal_id the action's
// current goal is canceled.
func (s *Server) CancelGoal(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readGoal(w, r, false)
	if !ok {
		return
	}
	id, err := s.Robot.CancelGoal(req.Action, req.Type, req.GoalID)
	if err != nil {
		jsonError(w, err.Error(), errorCode(err))
		return
	}
	jsonOK(w, map[string]string{"status": "cancel_sent", "goal_id": id})
}

// FetchResult handles POST /api/actions/result. The result itself arrives on
// the WebSocket stream as an action_result message.
func (s *Server) FetchResult(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readGoal(w, r, false)
	if !ok {
		return
	}
	id, err := s.Robot.FetchResult(req.Action, req.Type, req.GoalID)
	if err != nil {
		jsonError(w, err.Error(), errorCode(err))
		return
	}
	jsonStatus(w, http.StatusAccepted, map[string]string{"status": "result_requested", "goal_id": id})
}

// ──────────────────── Services ────────────────────

type serviceRequest struct {
	Service string          `json:"service"`
	Type    string          `json:"type"`
	Args    json.RawMessage `json:"args"`
}

type serviceResponse struct {
	Submission robot.Submission `json:"submission"`
	OK         bool             `json:"ok"`
	Values     json.RawMessage  `json:"values,omitempty"`
}

// CallService handles POST /api/services/call and waits for the response.
func (s *Server) CallService(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req serviceRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Service == "" || req.Type == "" {
		jsonError(w, "service and type are required", http.StatusBadRequest)
		return
	}

	timeout := s.ServiceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, sub, err := s.Robot.CallService(ctx, req.Service, req.Type, req.Args)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		jsonError(w, err.Error(), http.StatusGatewayTimeout)
		return
	case err != nil:
		jsonError(w, err.Error(), errorCode(err))
		return
	}
	jsonOK(w, serviceResponse{Submission: sub, OK: res.OK, Values: res.Values})
}
