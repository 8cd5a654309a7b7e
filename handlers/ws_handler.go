package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ros_teleop_app/robot"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSCommand is a message from the browser or controller.
type WSCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoystickData holds normalized joystick axes in [-1, 1].
type JoystickData struct {
	LinearX  float64 `json:"linear_x"`
	LinearY  float64 `json:"linear_y"`
	AngularZ float64 `json:"angular_z"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WSHandler upgrades HTTP to WebSocket, streams hub broadcasts to the client
// and executes its commands.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnf("ws upgrade error: %v", err)
		return
	}
	conn := &wsConn{Conn: raw}

	bcast := s.Robot.Hub.Subscribe()

	done := make(chan struct{})
	var closeOnce sync.Once

	cleanup := func() {
		closeOnce.Do(func() {
			close(done)
			s.Robot.Hub.Unsubscribe(bcast)
			conn.Close()
		})
	}
	defer cleanup()

	// Writer goroutine: forward broadcast messages to the client
	go func() {
		defer cleanup()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-bcast:
				if !ok {
					return
				}
				if err := conn.writeJSON(msg); err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						s.Log.Warnf("ws write error: %v", err)
					}
					return
				}
			}
		}
	}()

	// Reader: process commands until the client goes away
	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Debugf("ws read error: %v", err)
			}
			// a client that vanishes must not leave the robot driving
			s.Robot.Halt()
			return
		}

		var cmd WSCommand
		if err := json.Unmarshal(msgBytes, &cmd); err != nil {
			s.Log.Warnf("ws invalid command: %v", err)
			continue
		}
		s.handleWSCommand(conn, cmd)
	}
}

// handleWSCommand processes a single command.
func (s *Server) handleWSCommand(conn *wsConn, cmd WSCommand) {
	switch cmd.Type {
	case "joystick":
		var joy JoystickData
		if err := json.Unmarshal(cmd.Data, &joy); err != nil {
			return
		}
		s.Robot.SetJoystick(joy.LinearX, joy.LinearY, joy.AngularZ)

	case "stop":
		s.Robot.Halt()

	case "button":
		var data struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return
		}
		trig, err := s.Robot.Press(data.Name)
		if err != nil {
			conn.writeJSON(robot.BroadcastMsg{Type: robot.MsgError, Data: err.Error()})
			return
		}
		conn.writeJSON(robot.BroadcastMsg{Type: robot.MsgButton, Data: trig})

	case "request_status":
		conn.writeJSON(robot.BroadcastMsg{Type: robot.MsgStatus, Data: s.Robot.Status()})

	case "connect":
		if !s.Robot.Client.IsConnected() {
			go func() {
				if err := s.Robot.Connect("", 0); err != nil {
					s.Log.Warnf("ws connect: %v", err)
				}
			}()
		}

	case "disconnect":
		s.Robot.Disconnect()

	case "clear":
		s.Robot.ClearAll()

	default:
		s.Log.Warnf("ws unknown command type: %s", cmd.Type)
	}
}
