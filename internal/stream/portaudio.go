//go:build portaudio

package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// DefaultBackend returns the backend compiled into this binary
func DefaultBackend(logger *slog.Logger) Backend {
	return NewPortAudioBackend(logger)
}

// PortAudioBackend opens streams on real devices through PortAudio
type PortAudioBackend struct {
	logger *slog.Logger
}

// NewPortAudioBackend creates a PortAudio backend
func NewPortAudioBackend(logger *slog.Logger) *PortAudioBackend {
	return &PortAudioBackend{logger: logger}
}

func (b *PortAudioBackend) Name() string {
	return "portaudio"
}

// Acquire initializes PortAudio. Each context holds one Initialize/Terminate pair.
func (b *PortAudioBackend) Acquire() (DeviceContext, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}
	return &portAudioContext{logger: b.logger}, nil
}

type portAudioContext struct {
	logger *slog.Logger
	once   sync.Once
}

func (c *portAudioContext) inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if isDefaultDevice(name) {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list devices: %v", ErrDeviceUnavailable, err)
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), strings.ToLower(name)) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device matching %q", ErrDeviceUnavailable, name)
}

func (c *portAudioContext) Open(params StreamParams, fn ProcessFunc) (Stream, error) {
	var in, out *portaudio.DeviceInfo
	var err error

	if params.InputChannels > 0 {
		if in, err = c.inputDevice(params.InputDevice); err != nil {
			return nil, err
		}
	}
	if params.OutputChannels > 0 {
		if out, err = portaudio.DefaultOutputDevice(); err != nil {
			return nil, fmt.Errorf("%w: no default output device: %v", ErrDeviceUnavailable, err)
		}
	}

	p := portaudio.LowLatencyParameters(in, out)
	p.Input.Channels = params.InputChannels
	p.Output.Channels = params.OutputChannels
	p.SampleRate = float64(params.SampleRate)
	p.FramesPerBuffer = params.FramesPerBuffer

	// PortAudio picks the callback signature by reflection; once fn declines
	// more audio the stream renders silence until it is stopped
	var done bool
	var stream *portaudio.Stream
	switch {
	case in != nil && out != nil:
		stream, err = portaudio.OpenStream(p, func(inBuf, outBuf []int16) {
			if done {
				clear(outBuf)
				return
			}
			done = !fn(inBuf, outBuf)
		})
	case out != nil:
		stream, err = portaudio.OpenStream(p, func(outBuf []int16) {
			if done {
				clear(outBuf)
				return
			}
			done = !fn(nil, outBuf)
		})
	default:
		stream, err = portaudio.OpenStream(p, func(inBuf []int16) {
			if done {
				return
			}
			done = !fn(inBuf, nil)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	c.logger.Debug("PortAudio stream opened",
		slog.Float64("sample_rate", p.SampleRate),
		slog.Int("frames_per_buffer", p.FramesPerBuffer),
		slog.Int("input_channels", p.Input.Channels),
		slog.Int("output_channels", p.Output.Channels),
	)

	return stream, nil
}

func (c *portAudioContext) InputSampleRate(device string) (int, error) {
	dev, err := c.inputDevice(device)
	if err != nil {
		return 0, err
	}
	return int(dev.DefaultSampleRate), nil
}

func (c *portAudioContext) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    defIn != nil && dev.Name == defIn.Name,
			IsDefaultOutput:   defOut != nil && dev.Name == defOut.Name,
		})
	}
	return infos, nil
}

func (c *portAudioContext) Release() error {
	var err error
	c.once.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}
