// Package rosbridgetest provides an in-process rosbridge endpoint for tests.
package rosbridgetest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Message is one envelope received from the client under test.
type Message struct {
	Op      string          `json:"op"`
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Service string          `json:"service"`
	Type    string          `json:"type"`
	Args    json.RawMessage `json:"args"`
	Msg     json.RawMessage `json:"msg"`
	Values  json.RawMessage `json:"values"`
	Result  *bool           `json:"result"`
}

// ServiceFunc answers a call_service. Returning handled=false leaves the
// call unanswered.
type ServiceFunc func(call Message) (values interface{}, ok bool, handled bool)

// Server records every envelope and can push messages back to the client.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	received []Message
	services ServiceFunc
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.serve(conn)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) serve(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, m)
		fn := s.services
		s.mu.Unlock()

		if m.Op == "call_service" && fn != nil {
			if values, ok, handled := fn(m); handled {
				resp, _ := json.Marshal(map[string]interface{}{
					"op":      "service_response",
					"id":      m.ID,
					"service": m.Service,
					"values":  values,
					"result":  ok,
				})
				s.write(conn, resp)
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// HandleServices installs fn as the responder for call_service requests.
func (s *Server) HandleServices(fn ServiceFunc) {
	s.mu.Lock()
	s.services = fn
	s.mu.Unlock()
}

// HostPort returns the address clients should dial.
func (s *Server) HostPort() (string, int) {
	host, portStr, _ := net.SplitHostPort(s.srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Push sends msg to the connected client.
func (s *Server) Push(msg []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return s.write(conn, msg)
}

// DropConnection closes the current client socket from the server side.
func (s *Server) DropConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Connected reports whether a client socket is open.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Received returns a copy of every envelope seen so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.received...)
}

// Count returns how many envelopes with op targeted topic (or service).
func (s *Server) Count(op, target string) int {
	n := 0
	for _, m := range s.Received() {
		if m.Op == op && (m.Topic == target || m.Service == target) {
			n++
		}
	}
	return n
}
