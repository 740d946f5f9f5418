package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "defaults are valid",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "inverted angles are allowed",
			mutate: func(c *Config) {
				c.Servo.MinAngle = 90
				c.Servo.MaxAngle = 0
			},
			expectError: false,
		},
		{
			name: "equal angles",
			mutate: func(c *Config) {
				c.Servo.MinAngle = 45
				c.Servo.MaxAngle = 45
			},
			expectError: true,
			errorMsg:    "must differ",
		},
		{
			name: "servo pulse range reversed",
			mutate: func(c *Config) {
				c.Servo.ServoMin = 2500
				c.Servo.ServoMax = 500
			},
			expectError: true,
			errorMsg:    "servo_max",
		},
		{
			name: "levels not ascending",
			mutate: func(c *Config) {
				c.Controller.Style = StyleMultiLevel
				c.Controller.Level2 = c.Controller.Level1
			},
			expectError: true,
			errorMsg:    "level1 < level2 < level3",
		},
		{
			name: "filtered levels only checked for filtered style",
			mutate: func(c *Config) {
				c.Controller.Style = StyleMultiLevel
				c.Controller.FilteredLevel3 = 0
			},
			expectError: false,
		},
		{
			name: "filtered levels not ascending",
			mutate: func(c *Config) {
				c.Controller.Style = StyleFilteredMultiLevel
				c.Controller.FilteredLevel3 = 0
			},
			expectError: true,
			errorMsg:    "filtered_level1",
		},
		{
			name: "unknown style",
			mutate: func(c *Config) {
				c.Controller.Style = "WAVY"
			},
			expectError: true,
			errorMsg:    "style must be one of",
		},
		{
			name: "buffer too small",
			mutate: func(c *Config) {
				c.Audio.BufferSize = 8
			},
			expectError: true,
			errorMsg:    "buffer_size",
		},
		{
			name: "unknown output channels",
			mutate: func(c *Config) {
				c.Audio.OutputChannels = "RIGHT"
			},
			expectError: true,
			errorMsg:    "output_channels",
		},
		{
			name: "unknown trigger",
			mutate: func(c *Config) {
				c.Prop.Trigger = "DOORBELL"
			},
			expectError: true,
			errorMsg:    "trigger must be one of",
		},
		{
			name: "metrics enabled without port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 0
			},
			expectError: true,
			errorMsg:    "port must be between",
		},
		{
			name: "microphone with start is fine",
			mutate: func(c *Config) {
				c.Audio.Source = SourceMicrophone
				c.Prop.Trigger = TriggerStart
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestFilesWithStartRejected(t *testing.T) {
	cfg := Default()
	cfg.Audio.Source = SourceFiles
	cfg.Prop.Trigger = TriggerStart

	err := cfg.Validate()
	if !errors.Is(err, ErrSourceTriggerConflict) {
		t.Fatalf("Expected ErrSourceTriggerConflict, got %v", err)
	}

	_, err = Parse([]byte("audio:\n  source: files\nprop:\n  trigger: start\n"))
	if !errors.Is(err, ErrSourceTriggerConflict) {
		t.Fatalf("Expected Parse to surface ErrSourceTriggerConflict, got %v", err)
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "valid config file",
			configYAML: `
servo:
  servo_min: 600
  servo_max: 2400
  min_angle: 0
  max_angle: 60
controller:
  style: FILTERED_MULTILEVEL
  filtered_level1: 100
  filtered_level2: 200
  filtered_level3: 300
audio:
  buffer_size: 512
  source: MICROPHONE
  mic_time: 12
  output_channels: left
  ambient: OFF
prop:
  trigger: TIMER
  eyes: ON
  trigger_out: yes
  delay: 5
`,
			check: func(t *testing.T, c *Config) {
				if c.Servo.MaxAngle != 60 {
					t.Errorf("Expected max_angle 60, got %d", c.Servo.MaxAngle)
				}
				if c.Controller.Style != StyleFilteredMultiLevel {
					t.Errorf("Expected filtered style, got %s", c.Controller.Style)
				}
				if c.Audio.OutputChannels != OutputLeft {
					t.Errorf("Expected LEFT output, got %s", c.Audio.OutputChannels)
				}
				if c.Audio.Ambient {
					t.Errorf("Expected ambient OFF to decode as false")
				}
				if !c.Prop.Eyes || !c.Prop.TriggerOut {
					t.Errorf("Expected eyes and trigger_out to be enabled")
				}
				if c.Prop.GetDelay() != 5*time.Second {
					t.Errorf("Expected 5s delay, got %v", c.Prop.GetDelay())
				}
				if c.Pins.JawPin != 18 {
					t.Errorf("Expected default jaw pin 18, got %d", c.Pins.JawPin)
				}
			},
		},
		{
			name: "legacy numeric style",
			configYAML: `
controller:
  style: 0
  threshold: 1200
`,
			check: func(t *testing.T, c *Config) {
				if c.Controller.Style != StyleThreshold {
					t.Errorf("Expected style 0 to map to THRESHOLD, got %s", c.Controller.Style)
				}
			},
		},
		{
			name: "invalid yaml",
			configYAML: `
servo: [unclosed
`,
			expectError: true,
			errorMsg:    "failed to parse config",
		},
		{
			name: "invalid source",
			configYAML: `
audio:
  source: RADIO
`,
			expectError: true,
			errorMsg:    "source must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			cfg, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	} else if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestSimulationEnvOverride(t *testing.T) {
	t.Setenv(SimulationEnv, "1")

	cfg, err := Parse([]byte("hardware:\n  simulation: false\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !cfg.Hardware.Simulation {
		t.Errorf("Expected %s=1 to force simulation", SimulationEnv)
	}
}

func TestWatcherReload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("controller:\n  style: THRESHOLD\n  threshold: 100\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var reloads int
	w, err := NewWatcher(path, initial, logger, WithReloadHook(func(error) { reloads++ }))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Close()

	if w.Current().Controller.Threshold != 100 {
		t.Fatalf("Expected initial threshold 100, got %d", w.Current().Controller.Threshold)
	}

	if err := os.WriteFile(path, []byte("controller:\n  style: THRESHOLD\n  threshold: 250\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	cfg, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.Controller.Threshold != 250 || w.Current().Controller.Threshold != 250 {
		t.Errorf("Expected reloaded threshold 250, got %d", w.Current().Controller.Threshold)
	}

	// A broken edit keeps the last good snapshot
	if err := os.WriteFile(path, []byte("controller:\n  style: NOPE\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	if _, err := w.Reload(); err == nil {
		t.Errorf("Expected reload of invalid file to fail")
	}
	if w.Current().Controller.Threshold != 250 {
		t.Errorf("Expected previous snapshot to survive, got threshold %d", w.Current().Controller.Threshold)
	}
	if reloads != 2 {
		t.Errorf("Expected reload hook to fire twice, got %d", reloads)
	}
}

func TestWatcherPicksUpEdits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("prop:\n  delay: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	w, err := NewWatcher(path, initial, logger)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("prop:\n  delay: 9\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Prop.Delay == 9 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("Expected watcher to pick up delay 9, still %d", w.Current().Prop.Delay)
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	t.Setenv(SimulationEnv, "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Sample config drifted from defaults:\n got %+v\nwant %+v", cfg, Default())
	}
}
