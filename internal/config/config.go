// Package config loads and validates the bridge configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/mr72-bridge/internal/mavlink"
	"github.com/banshee-data/mr72-bridge/internal/serialport"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Duration is a time.Duration written as a string like "500ms" in config
// files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the complete bridge configuration.
type Config struct {
	Input   InputConfig           `json:"input" yaml:"input"`
	Output  OutputConfig          `json:"output" yaml:"output"`
	MAVLink MAVLinkConfig         `json:"mavlink" yaml:"mavlink"`
	Encoder mavlink.EncoderConfig `json:"encoder" yaml:"encoder"`
	Debug   DebugConfig           `json:"debug" yaml:"debug"`
}

// InputConfig describes the radar link.
type InputConfig struct {
	Device string                 `json:"device" yaml:"device"`
	Serial serialport.PortOptions `json:"serial" yaml:"serial"`
	// ReadTimeout bounds each serial read so stalls can be noticed.
	ReadTimeout Duration `json:"read_timeout" yaml:"read_timeout"`
	// StallTimeout reopens the radar after this long without bytes; zero
	// disables the check.
	StallTimeout Duration `json:"stall_timeout" yaml:"stall_timeout"`
}

// OutputKind is the transport of the output link.
type OutputKind int

const (
	OutputSerial OutputKind = iota
	OutputUDP
)

func (k OutputKind) String() string {
	if k == OutputUDP {
		return "udp"
	}
	return "serial"
}

// OutputConfig describes the flight controller link. Target is a device
// path for a serial link or a host name for UDP.
type OutputConfig struct {
	Target      string                 `json:"target" yaml:"target"`
	Serial      serialport.PortOptions `json:"serial" yaml:"serial"`
	UDPPort     int                    `json:"udp_port" yaml:"udp_port"`
	RateHz      float64                `json:"rate_hz" yaml:"rate_hz"`
	HeartbeatHz float64                `json:"heartbeat_hz" yaml:"heartbeat_hz"`
	RetryDelay  Duration               `json:"retry_delay" yaml:"retry_delay"`
}

// windowsPort matches COM3 and \\.\COM12 style device names.
var windowsPort = regexp.MustCompile(`(?i)^(\\\\\.\\)?COM[0-9]+$`)

// Kind reports whether Target names a serial device or a UDP host.
func (o OutputConfig) Kind() OutputKind {
	if strings.HasPrefix(o.Target, "/") || windowsPort.MatchString(o.Target) {
		return OutputSerial
	}
	return OutputUDP
}

// Interval is the distance message period.
func (o OutputConfig) Interval() time.Duration {
	return hz(o.RateHz)
}

// HeartbeatInterval is the heartbeat period, or zero when disabled.
func (o OutputConfig) HeartbeatInterval() time.Duration {
	return hz(o.HeartbeatHz)
}

func hz(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / f)
}

// MAVLinkConfig identifies the bridge on the vehicle bus.
type MAVLinkConfig struct {
	SystemID    uint8 `json:"system_id" yaml:"system_id"`
	ComponentID uint8 `json:"component_id" yaml:"component_id"`
}

// DebugConfig holds diagnostics settings.
type DebugConfig struct {
	// Listen enables the status and debug HTTP server, e.g. "localhost:8080".
	Listen  string `json:"listen" yaml:"listen"`
	LogFile string `json:"log_file" yaml:"log_file"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
}

// Default returns the configuration used when no file or flag overrides it.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Device:       "/dev/ttyS0",
			Serial:       serialport.PortOptions{BaudRate: serialport.DefaultBaudRate},
			ReadTimeout:  Duration(100 * time.Millisecond),
			StallTimeout: Duration(2 * time.Second),
		},
		Output: OutputConfig{
			Target:      "/dev/ttyACM1",
			Serial:      serialport.PortOptions{BaudRate: serialport.DefaultBaudRate},
			UDPPort:     14551,
			RateHz:      10,
			HeartbeatHz: 1,
			RetryDelay:  Duration(2 * time.Second),
		},
		MAVLink: MAVLinkConfig{
			SystemID:    1,
			ComponentID: 196, // MAV_COMP_ID_OBSTACLE_AVOIDANCE
		},
		Encoder: mavlink.DefaultEncoderConfig(),
	}
}

// ConfigError reports an invalid configuration value. The bridge refuses to
// start when it sees one.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Load reads a JSON or YAML file over the defaults. Fields omitted from the
// file keep their default values, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)}
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("failed to stat config file: %w", err)}
	}
	if fileInfo.Size() > maxFileSize {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)}
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := Default()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("failed to parse %s: %w", cleanPath, err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns a *ConfigError for the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input.Device) == "" {
		return invalid("input.device", "must not be empty")
	}
	if _, err := c.Input.Serial.Normalise(); err != nil {
		return &ConfigError{Field: "input.serial", Err: err}
	}
	if c.Input.ReadTimeout < 0 {
		return invalid("input.read_timeout", "must not be negative")
	}
	if c.Input.StallTimeout < 0 {
		return invalid("input.stall_timeout", "must not be negative")
	}

	if strings.TrimSpace(c.Output.Target) == "" {
		return invalid("output.target", "must not be empty")
	}
	switch c.Output.Kind() {
	case OutputSerial:
		if _, err := c.Output.Serial.Normalise(); err != nil {
			return &ConfigError{Field: "output.serial", Err: err}
		}
		if c.Output.Target == c.Input.Device {
			return invalid("output.target", "%s is already the input device", c.Output.Target)
		}
	case OutputUDP:
		if c.Output.UDPPort < 1 || c.Output.UDPPort > 65535 {
			return invalid("output.udp_port", "%d is not a valid port", c.Output.UDPPort)
		}
	}
	if c.Output.RateHz <= 0 || c.Output.RateHz > 100 {
		return invalid("output.rate_hz", "%g must be in (0, 100]", c.Output.RateHz)
	}
	if c.Output.HeartbeatHz < 0 || c.Output.HeartbeatHz > 10 {
		return invalid("output.heartbeat_hz", "%g must be in [0, 10]", c.Output.HeartbeatHz)
	}
	if c.Output.RetryDelay <= 0 {
		return invalid("output.retry_delay", "must be positive")
	}

	if c.MAVLink.SystemID == 0 {
		return invalid("mavlink.system_id", "0 is the broadcast id")
	}
	if c.MAVLink.ComponentID == 0 {
		return invalid("mavlink.component_id", "0 is the broadcast id")
	}

	if err := c.Encoder.Validate(); err != nil {
		return &ConfigError{Field: "encoder", Err: err}
	}

	if c.Debug.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Debug.Listen); err != nil {
			return &ConfigError{Field: "debug.listen", Err: err}
		}
	}
	return nil
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
