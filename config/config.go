package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ros_teleop_app/rosbridge"
)

// Config holds application configuration.
type Config struct {
	Rosbridge RosbridgeConfig `yaml:"rosbridge"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Goals     GoalsConfig     `yaml:"goals"`
	Services  ServicesConfig  `yaml:"services"`
	Velocity  VelocityConfig  `yaml:"velocity"`
	Bindings  []Binding       `yaml:"bindings"`
}

// RosbridgeConfig describes the single rosbridge_server connection.
type RosbridgeConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AutoConnect      bool          `yaml:"auto_connect"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// GoalsConfig tunes the action goal coordinator.
type GoalsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ServicesConfig tunes the service request queue.
type ServicesConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// VelocityConfig drives the joystick -> Twist publisher. HaltService is
// advertised to ROS as a std_srvs/Trigger that zeroes the velocity; empty
// disables it.
type VelocityConfig struct {
	Topic       string  `yaml:"topic"`
	RateHz      int     `yaml:"rate_hz"`
	MaxLinear   float64 `yaml:"max_linear"`
	MaxAngular  float64 `yaml:"max_angular"`
	HaltService string  `yaml:"halt_service"`
}

// Binding maps a controller button name to exactly one ROS operation.
type Binding struct {
	Name    string          `yaml:"name"`
	Action  *ActionBinding  `yaml:"action,omitempty"`
	Service *ServiceBinding `yaml:"service,omitempty"`
	Publish *PublishBinding `yaml:"publish,omitempty"`
}

type ActionBinding struct {
	Name string                 `yaml:"name"`
	Type string                 `yaml:"type"`
	Goal map[string]interface{} `yaml:"goal"`
}

type ServiceBinding struct {
	Name    string                 `yaml:"name"`
	Type    string                 `yaml:"type"`
	Request map[string]interface{} `yaml:"request"`
}

type PublishBinding struct {
	Topic string                 `yaml:"topic"`
	Type  string                 `yaml:"type"`
	Msg   map[string]interface{} `yaml:"msg"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Rosbridge: RosbridgeConfig{
			Host:             "127.0.0.1",
			Port:             9090,
			ReconnectDelay:   3 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			AutoConnect:      true,
		},
		Server:   ServerConfig{ListenAddr: ":8080"},
		Logging:  LoggingConfig{Level: "info"},
		Goals:    GoalsConfig{Timeout: 10 * time.Second},
		Services: ServicesConfig{Timeout: 10 * time.Second},
		Velocity: VelocityConfig{
			Topic:       "/cmd_vel",
			RateHz:      20,
			MaxLinear:   1.0,
			MaxAngular:  1.0,
			HaltService: "/ros_teleop_app/halt",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Rosbridge.Host = envOr("ROSBRIDGE_HOST", c.Rosbridge.Host)
	c.Server.ListenAddr = envOr("LISTEN_ADDR", c.Server.ListenAddr)
	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Dir = envOr("LOG_DIR", c.Logging.Dir)

	if v := os.Getenv("ROSBRIDGE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ROSBRIDGE_PORT %q: %w", v, err)
		}
		c.Rosbridge.Port = p
	}
	return nil
}

// Validate checks ranges and binding shape.
func (c *Config) Validate() error {
	if c.Rosbridge.Host == "" {
		return fmt.Errorf("rosbridge.host is required")
	}
	if c.Rosbridge.Port < 1 || c.Rosbridge.Port > 65535 {
		return fmt.Errorf("rosbridge.port %d out of range", c.Rosbridge.Port)
	}
	if c.Goals.Timeout <= 0 {
		return fmt.Errorf("goals.timeout must be positive")
	}
	if c.Services.Timeout <= 0 {
		return fmt.Errorf("services.timeout must be positive")
	}
	if c.Velocity.RateHz <= 0 {
		return fmt.Errorf("velocity.rate_hz must be positive")
	}

	seen := make(map[string]bool, len(c.Bindings))
	for i, b := range c.Bindings {
		if b.Name == "" {
			return fmt.Errorf("bindings[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("bindings[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true

		targets := 0
		if b.Action != nil {
			targets++
		}
		if b.Service != nil {
			targets++
		}
		if b.Publish != nil {
			targets++
		}
		if targets != 1 {
			return fmt.Errorf("binding %q: exactly one of action, service, publish must be set", b.Name)
		}
		if p := b.Publish; p != nil {
			if p.Topic == "" || p.Type == "" {
				return fmt.Errorf("binding %q: publish needs topic and type", b.Name)
			}
			msg, err := json.Marshal(p.Msg)
			if err != nil {
				return fmt.Errorf("binding %q: encode message: %w", b.Name, err)
			}
			if err := rosbridge.CheckPayload(p.Type, msg); err != nil {
				return fmt.Errorf("binding %q: %w", b.Name, err)
			}
		}
	}
	return nil
}

// URL returns the rosbridge WebSocket URL.
func (r RosbridgeConfig) URL() string {
	return fmt.Sprintf("ws://%s:%d", r.Host, r.Port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
