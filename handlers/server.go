package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ros_teleop_app/logging"
	"ros_teleop_app/robot"
)

const maxBodyBytes = 1 << 20

// Server holds shared dependencies for all handlers.
type Server struct {
	Robot *robot.Robot
	Log   logging.Logger

	// ServiceTimeout bounds how long /api/services/call waits for a response.
	ServiceTimeout time.Duration
}

// NewServer creates the handler set for rb.
func NewServer(rb *robot.Robot, log logging.Logger, serviceTimeout time.Duration) *Server {
	return &Server{
		Robot:          rb,
		Log:            log.WithField("component", "api"),
		ServiceTimeout: serviceTimeout,
	}
}

// Routes returns the HTTP routes of the control surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Link
	mux.HandleFunc("/api/status", s.RobotStatus)
	mux.HandleFunc("/api/connect", s.Connect)
	mux.HandleFunc("/api/disconnect", s.Disconnect)
	mux.HandleFunc("/api/recovery/clear", s.ClearAll)

	// Topics
	mux.HandleFunc("/api/topics/subscribe", s.SubscribeTopic)
	mux.HandleFunc("/api/topics/unsubscribe", s.UnsubscribeTopic)
	mux.HandleFunc("/api/topics/publish", s.PublishTopic)

	// Actions
	mux.HandleFunc("/api/actions/goal", s.SendGoal)
	mux.HandleFunc("/api/actions/cancel", s.CancelGoal)
	mux.HandleFunc("/api/actions/result", s.FetchResult)

	// Services
	mux.HandleFunc("/api/services/call", s.CallService)

	// Controller
	mux.HandleFunc("/api/buttons/press", s.PressButton)

	// WebSocket
	mux.HandleFunc("/ws", s.WSHandler)
	return mux
}

// requirePost rejects anything but POST.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func jsonOK(w http.ResponseWriter, data interface{}) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// submissionCode maps a coordinator outcome to an HTTP status.
func submissionCode(sub robot.Submission) int {
	switch sub {
	case robot.SubmissionQueued:
		return http.StatusAccepted
	case robot.SubmissionDropped:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
