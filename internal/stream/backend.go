package stream

import (
	"errors"
	"strings"
)

// ErrDeviceUnavailable is returned when no audio device context can be acquired
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ProcessFunc is the real-time buffer callback. in holds captured frames and out
// receives frames to render; either is nil when the stream has no such direction.
// Returning false tells the backend no further buffers are wanted.
type ProcessFunc func(in, out []int16) bool

// StreamParams describes a stream to open
type StreamParams struct {
	SampleRate      int
	FramesPerBuffer int
	InputChannels   int
	OutputChannels  int
	// InputDevice selects the capture device by name, "" or "DEFAULT" for the system default
	InputDevice string
}

// Stream is an open audio stream
type Stream interface {
	Start() error
	// Stop halts the stream. No callback runs after Stop returns.
	Stop() error
	Close() error
}

// DeviceInfo describes an audio device
type DeviceInfo struct {
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefaultInput    bool    `json:"is_default_input"`
	IsDefaultOutput   bool    `json:"is_default_output"`
}

// DeviceContext is an acquired handle on the audio subsystem. It must be
// released once every stream opened from it is closed.
type DeviceContext interface {
	Open(params StreamParams, fn ProcessFunc) (Stream, error)
	// InputSampleRate returns the native rate of the named capture device
	InputSampleRate(device string) (int, error)
	Devices() ([]DeviceInfo, error)
	Release() error
}

// Backend hands out device contexts
type Backend interface {
	Name() string
	Acquire() (DeviceContext, error)
}

func isDefaultDevice(name string) bool {
	return name == "" || strings.EqualFold(name, "default")
}
