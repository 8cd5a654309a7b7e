package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ROSBRIDGE_HOST", "ROSBRIDGE_PORT", "LISTEN_ADDR", "LOG_LEVEL", "LOG_DIR"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ros_teleop_app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Rosbridge.Host)
	assert.Equal(t, 9090, cfg.Rosbridge.Port)
	assert.Equal(t, 10*time.Second, cfg.Goals.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Services.Timeout)
	assert.Equal(t, "/cmd_vel", cfg.Velocity.Topic)
	assert.Equal(t, "/ros_teleop_app/halt", cfg.Velocity.HaltService)
	assert.Equal(t, "ws://127.0.0.1:9090", cfg.Rosbridge.URL())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
rosbridge:
  host: 192.168.1.50
  port: 9091
  reconnect_delay: 1s
logging:
  level: debug
goals:
  timeout: 15s
velocity:
  topic: /diff_controller/cmd_vel_unstamped
  rate_hz: 10
  max_linear: 0.5
  max_angular: 1.2
bindings:
  - name: button_a
    action:
      name: /pose_server/run_trajectory
      type: pose_msgs/action/RunTrajectory
      goal:
        trajectory_id: 3
  - name: button_b
    service:
      name: /reset_odom
      type: std_srvs/srv/Empty
  - name: button_x
    publish:
      topic: /led
      type: std_msgs/msg/Bool
      msg:
        data: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", cfg.Rosbridge.Host)
	assert.Equal(t, 9091, cfg.Rosbridge.Port)
	assert.Equal(t, time.Second, cfg.Rosbridge.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Rosbridge.HandshakeTimeout, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 15*time.Second, cfg.Goals.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Services.Timeout)
	assert.Equal(t, 10, cfg.Velocity.RateHz)

	require.Len(t, cfg.Bindings, 3)
	require.NotNil(t, cfg.Bindings[0].Action)
	assert.Equal(t, "pose_msgs/action/RunTrajectory", cfg.Bindings[0].Action.Type)
	assert.Equal(t, 3, cfg.Bindings[0].Action.Goal["trajectory_id"])
	require.NotNil(t, cfg.Bindings[1].Service)
	require.NotNil(t, cfg.Bindings[2].Publish)
	assert.Equal(t, true, cfg.Bindings[2].Publish.Msg["data"])
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROSBRIDGE_HOST", "robot.local")
	t.Setenv("ROSBRIDGE_PORT", "9999")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, "rosbridge:\n  host: 10.0.0.1\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "robot.local", cfg.Rosbridge.Host)
	assert.Equal(t, 9999, cfg.Rosbridge.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		errMsg  string
	}{
		{
			name:    "port out of range",
			content: "rosbridge:\n  port: 70000\n",
			errMsg:  "out of range",
		},
		{
			name:    "non positive goal timeout",
			content: "goals:\n  timeout: 0s\n",
			errMsg:  "goals.timeout",
		},
		{
			name:    "bad env port",
			content: "",
			env:     map[string]string{"ROSBRIDGE_PORT": "abc"},
			errMsg:  "ROSBRIDGE_PORT",
		},
		{
			name:    "binding without target",
			content: "bindings:\n  - name: a\n",
			errMsg:  "exactly one of",
		},
		{
			name: "binding with two targets",
			content: `bindings:
  - name: a
    service: {name: /s, type: std_srvs/srv/Empty}
    publish: {topic: /t, type: std_msgs/msg/Empty}
`,
			errMsg: "exactly one of",
		},
		{
			name: "duplicate binding",
			content: `bindings:
  - name: a
    service: {name: /s, type: std_srvs/srv/Empty}
  - name: a
    service: {name: /s, type: std_srvs/srv/Empty}
`,
			errMsg: "duplicate",
		},
		{
			name: "publish payload does not fit type",
			content: `bindings:
  - name: led
    publish: {topic: /led, type: std_msgs/msg/Bool, msg: {data: "on"}}
`,
			errMsg: "does not match",
		},
		{
			name: "publish without topic",
			content: `bindings:
  - name: led
    publish: {type: std_msgs/msg/Empty}
`,
			errMsg: "topic and type",
		},
		{
			name:    "invalid yaml",
			content: "rosbridge: [",
			errMsg:  "parse config file",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
