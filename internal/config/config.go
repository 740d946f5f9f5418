package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulationEnv forces every hardware backend to its software stub when set to "1"
const SimulationEnv = "CHATTERPI_SIMULATION"

// ErrSourceTriggerConflict is returned when audio is sourced from files while the
// prop is configured to speak once at launch
var ErrSourceTriggerConflict = errors.New("source FILES cannot be combined with trigger START; use MICROPHONE")

// Style selects the loudness to jaw angle algorithm
type Style string

const (
	StyleThreshold          Style = "THRESHOLD"
	StyleMultiLevel         Style = "MULTILEVEL"
	StyleFilteredMultiLevel Style = "FILTERED_MULTILEVEL"
)

// Source selects where vocal audio comes from
type Source string

const (
	SourceFiles      Source = "FILES"
	SourceMicrophone Source = "MICROPHONE"
)

// Trigger selects when the prop speaks
type Trigger string

const (
	TriggerStart Trigger = "START"
	TriggerTimer Trigger = "TIMER"
	TriggerPIR   Trigger = "PIR"
)

// OutputChannels selects how stereo tracks are rendered
type OutputChannels string

const (
	OutputBoth OutputChannels = "BOTH"
	OutputLeft OutputChannels = "LEFT"
)

// Config represents the complete prop configuration
type Config struct {
	Servo      ServoConfig      `yaml:"servo"`
	Controller ControllerConfig `yaml:"controller"`
	Audio      AudioConfig      `yaml:"audio"`
	Prop       PropConfig       `yaml:"prop"`
	Pins       PinsConfig       `yaml:"pins"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Tracks     TracksConfig     `yaml:"tracks"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServoConfig contains the jaw servo calibration
type ServoConfig struct {
	ServoMin int `yaml:"servo_min"` // microseconds
	ServoMax int `yaml:"servo_max"` // microseconds
	MinAngle int `yaml:"min_angle"` // degrees
	MaxAngle int `yaml:"max_angle"` // degrees
}

// ControllerConfig contains the control style and its thresholds
type ControllerConfig struct {
	Style          Style `yaml:"style"`
	Threshold      int   `yaml:"threshold"`
	Level1         int   `yaml:"level1"`
	Level2         int   `yaml:"level2"`
	Level3         int   `yaml:"level3"`
	FilteredLevel1 int   `yaml:"filtered_level1"`
	FilteredLevel2 int   `yaml:"filtered_level2"`
	FilteredLevel3 int   `yaml:"filtered_level3"`
}

// AudioConfig contains audio stream parameters
type AudioConfig struct {
	BufferSize     int            `yaml:"buffer_size"` // frames per buffer
	Source         Source         `yaml:"source"`
	MicTime        int            `yaml:"mic_time"` // seconds
	OutputChannels OutputChannels `yaml:"output_channels"`
	InputDevice    string         `yaml:"input_device"`
	Ambient        bool           `yaml:"ambient"`
}

// PropConfig contains trigger policy and auxiliary outputs
type PropConfig struct {
	Trigger    Trigger `yaml:"trigger"`
	Eyes       bool    `yaml:"eyes"`
	TriggerOut bool    `yaml:"trigger_out"`
	Delay      int     `yaml:"delay"` // seconds
}

// PinsConfig contains BCM pin assignments
type PinsConfig struct {
	JawPin        int `yaml:"jaw_pin"`
	PIRPin        int `yaml:"pir_pin"`
	EyesPin       int `yaml:"eyes_pin"`
	TriggerOutPin int `yaml:"trigger_out_pin"`
}

// HardwareConfig contains hardware backend selection
type HardwareConfig struct {
	Simulation     bool `yaml:"simulation"`
	SensorInterval int  `yaml:"sensor_interval"` // seconds between simulated sensor asserts, 0 disables
}

// TracksConfig contains track library locations
type TracksConfig struct {
	VocalDir   string `yaml:"vocal_dir"`
	AmbientDir string `yaml:"ambient_dir"`
}

// MetricsConfig contains the optional status/metrics HTTP endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		Servo: ServoConfig{
			ServoMin: 500,
			ServoMax: 2500,
			MinAngle: 0,
			MaxAngle: 90,
		},
		Controller: ControllerConfig{
			Style:          StyleMultiLevel,
			Threshold:      2000,
			Level1:         1500,
			Level2:         3000,
			Level3:         4500,
			FilteredLevel1: 500,
			FilteredLevel2: 1000,
			FilteredLevel3: 1500,
		},
		Audio: AudioConfig{
			BufferSize:     1024,
			Source:         SourceFiles,
			MicTime:        30,
			OutputChannels: OutputBoth,
			InputDevice:    "DEFAULT",
			Ambient:        true,
		},
		Prop: PropConfig{
			Trigger:    TriggerPIR,
			Eyes:       true,
			TriggerOut: false,
			Delay:      30,
		},
		Pins: PinsConfig{
			JawPin:        18,
			PIRPin:        4,
			EyesPin:       25,
			TriggerOutPin: 24,
		},
		Hardware: HardwareConfig{
			SensorInterval: 20,
		},
		Tracks: TracksConfig{
			VocalDir:   "vocals",
			AmbientDir: "ambient",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1",
			Port:    9310,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return config, nil
}

// Parse decodes YAML on top of the defaults, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if os.Getenv(SimulationEnv) == "1" {
		c.Hardware.Simulation = true
	}
}

// Current returns the configuration itself so a fixed snapshot can be used wherever
// a live configuration source is expected
func (c *Config) Current() *Config {
	return c
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Servo.Validate(); err != nil {
		return fmt.Errorf("servo config: %w", err)
	}

	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Prop.Validate(); err != nil {
		return fmt.Errorf("prop config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if c.Audio.Source == SourceFiles && c.Prop.Trigger == TriggerStart {
		return ErrSourceTriggerConflict
	}

	return nil
}

// Validate validates servo calibration
func (s *ServoConfig) Validate() error {
	if s.ServoMin <= 0 {
		return fmt.Errorf("servo_min must be positive, got %d", s.ServoMin)
	}

	if s.ServoMax <= s.ServoMin {
		return fmt.Errorf("servo_max (%d) must be greater than servo_min (%d)", s.ServoMax, s.ServoMin)
	}

	if s.MinAngle == s.MaxAngle {
		return fmt.Errorf("min_angle and max_angle must differ, both are %d", s.MinAngle)
	}

	for _, a := range []int{s.MinAngle, s.MaxAngle} {
		if a < -180 || a > 180 {
			return fmt.Errorf("angles must be between -180 and 180, got %d", a)
		}
	}

	return nil
}

// Validate validates controller style and thresholds
func (c *ControllerConfig) Validate() error {
	switch c.Style {
	case StyleThreshold:
		if c.Threshold < 0 {
			return fmt.Errorf("threshold cannot be negative, got %d", c.Threshold)
		}
	case StyleMultiLevel:
		return validateLevels("level", c.Level1, c.Level2, c.Level3)
	case StyleFilteredMultiLevel:
		return validateLevels("filtered_level", c.FilteredLevel1, c.FilteredLevel2, c.FilteredLevel3)
	default:
		return fmt.Errorf("style must be one of [THRESHOLD, MULTILEVEL, FILTERED_MULTILEVEL], got '%s'", c.Style)
	}

	return nil
}

func validateLevels(name string, l1, l2, l3 int) error {
	if l1 < 0 {
		return fmt.Errorf("%s1 cannot be negative, got %d", name, l1)
	}
	if !(l1 < l2 && l2 < l3) {
		return fmt.Errorf("%s1 < %s2 < %s3 required, got %d, %d, %d", name, name, name, l1, l2, l3)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.BufferSize < 64 || a.BufferSize > 16384 {
		return fmt.Errorf("buffer_size must be between 64 and 16384 frames, got %d", a.BufferSize)
	}

	if a.Source != SourceFiles && a.Source != SourceMicrophone {
		return fmt.Errorf("source must be 'FILES' or 'MICROPHONE', got '%s'", a.Source)
	}

	if a.MicTime < 0 {
		return fmt.Errorf("mic_time cannot be negative, got %d", a.MicTime)
	}

	if a.OutputChannels != OutputBoth && a.OutputChannels != OutputLeft {
		return fmt.Errorf("output_channels must be 'BOTH' or 'LEFT', got '%s'", a.OutputChannels)
	}

	return nil
}

// Validate validates prop trigger configuration
func (p *PropConfig) Validate() error {
	switch p.Trigger {
	case TriggerStart, TriggerTimer, TriggerPIR:
	default:
		return fmt.Errorf("trigger must be one of [START, TIMER, PIR], got '%s'", p.Trigger)
	}

	if p.Delay < 0 {
		return fmt.Errorf("delay cannot be negative, got %d", p.Delay)
	}

	return nil
}

// Validate validates the metrics endpoint configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", m.Port)
		}

		if m.Address == "" {
			return fmt.Errorf("address cannot be empty when metrics are enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetDelay returns the inter-trigger delay as a time.Duration
func (p *PropConfig) GetDelay() time.Duration {
	return time.Duration(p.Delay) * time.Second
}

// GetMicTime returns the capture timeout as a time.Duration
func (a *AudioConfig) GetMicTime() time.Duration {
	return time.Duration(a.MicTime) * time.Second
}

// GetSensorInterval returns the simulated sensor period as a time.Duration
func (h *HardwareConfig) GetSensorInterval() time.Duration {
	return time.Duration(h.SensorInterval) * time.Second
}

// UnmarshalYAML accepts the style name or the legacy numeric form (0, 1, 2)
func (s *Style) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.ToUpper(strings.TrimSpace(value.Value))
	if n, err := strconv.Atoi(raw); err == nil {
		switch n {
		case 0:
			*s = StyleThreshold
		case 1:
			*s = StyleMultiLevel
		case 2:
			*s = StyleFilteredMultiLevel
		default:
			return fmt.Errorf("unknown numeric style %d", n)
		}
		return nil
	}
	*s = Style(strings.ReplaceAll(raw, "-", "_"))
	return nil
}

// UnmarshalYAML normalizes case
func (s *Source) UnmarshalYAML(value *yaml.Node) error {
	*s = Source(strings.ToUpper(strings.TrimSpace(value.Value)))
	return nil
}

// UnmarshalYAML normalizes case
func (t *Trigger) UnmarshalYAML(value *yaml.Node) error {
	*t = Trigger(strings.ToUpper(strings.TrimSpace(value.Value)))
	return nil
}

// UnmarshalYAML normalizes case
func (o *OutputChannels) UnmarshalYAML(value *yaml.Node) error {
	*o = OutputChannels(strings.ToUpper(strings.TrimSpace(value.Value)))
	return nil
}
