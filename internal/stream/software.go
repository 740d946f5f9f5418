package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const softwareSampleRate = 48000

// SoftwareBackend runs streams on a goroutine clocked at the buffer period.
// Rendered audio is discarded and captured audio comes from an optional
// generator, so the whole prop can run on a host without a sound card.
type SoftwareBackend struct {
	logger      *slog.Logger
	freeRunning bool
	input       func(buf []int16)
	sampleRate  int
}

// SoftwareOption configures a SoftwareBackend
type SoftwareOption func(*SoftwareBackend)

// WithFreeRunning invokes callbacks back to back instead of in real time
func WithFreeRunning() SoftwareOption {
	return func(b *SoftwareBackend) {
		b.freeRunning = true
	}
}

// WithInputGenerator fills capture buffers; without it captured audio is silence
func WithInputGenerator(fn func(buf []int16)) SoftwareOption {
	return func(b *SoftwareBackend) {
		b.input = fn
	}
}

// WithInputSampleRate sets the rate reported for capture devices
func WithInputSampleRate(rate int) SoftwareOption {
	return func(b *SoftwareBackend) {
		b.sampleRate = rate
	}
}

// NewSoftwareBackend creates a device-less backend
func NewSoftwareBackend(logger *slog.Logger, opts ...SoftwareOption) *SoftwareBackend {
	b := &SoftwareBackend{
		logger:     logger,
		sampleRate: softwareSampleRate,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SoftwareBackend) Name() string {
	return "software"
}

func (b *SoftwareBackend) Acquire() (DeviceContext, error) {
	return &softwareContext{backend: b}, nil
}

type softwareContext struct {
	backend *SoftwareBackend

	mu       sync.Mutex
	released bool
}

func (c *softwareContext) Open(params StreamParams, fn ProcessFunc) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, fmt.Errorf("%w: context released", ErrDeviceUnavailable)
	}

	if params.SampleRate <= 0 || params.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid stream parameters: %d Hz, %d frames", params.SampleRate, params.FramesPerBuffer)
	}
	if params.InputChannels == 0 && params.OutputChannels == 0 {
		return nil, fmt.Errorf("stream needs at least one direction")
	}

	period := time.Duration(params.FramesPerBuffer) * time.Second / time.Duration(params.SampleRate)
	if c.backend.freeRunning {
		period = 0
	}

	s := &softwareStream{
		fn:     fn,
		period: period,
		input:  c.backend.input,
		stop:   make(chan struct{}),
	}
	if params.InputChannels > 0 {
		s.in = make([]int16, params.FramesPerBuffer*params.InputChannels)
	}
	if params.OutputChannels > 0 {
		s.out = make([]int16, params.FramesPerBuffer*params.OutputChannels)
	}

	c.backend.logger.Debug("Software stream opened",
		slog.Int("sample_rate", params.SampleRate),
		slog.Int("frames_per_buffer", params.FramesPerBuffer),
		slog.Int("input_channels", params.InputChannels),
		slog.Int("output_channels", params.OutputChannels),
	)

	return s, nil
}

func (c *softwareContext) InputSampleRate(device string) (int, error) {
	if !isDefaultDevice(device) && device != "software" {
		return 0, fmt.Errorf("%w: no input device %q", ErrDeviceUnavailable, device)
	}
	return c.backend.sampleRate, nil
}

func (c *softwareContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{
		Name:              "software",
		MaxInputChannels:  2,
		MaxOutputChannels: 2,
		DefaultSampleRate: float64(c.backend.sampleRate),
		IsDefaultInput:    true,
		IsDefaultOutput:   true,
	}}, nil
}

func (c *softwareContext) Release() error {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
	return nil
}

type softwareStream struct {
	fn      ProcessFunc
	period  time.Duration
	input   func(buf []int16)
	in, out []int16

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func (s *softwareStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("stream already started")
	}
	s.started = true

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *softwareStream) loop() {
	defer s.wg.Done()

	var ticker *time.Ticker
	if s.period > 0 {
		ticker = time.NewTicker(s.period)
		defer ticker.Stop()
	}

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if s.in != nil {
			if s.input != nil {
				s.input(s.in)
			} else {
				clear(s.in)
			}
		}
		if !s.fn(s.in, s.out) {
			return
		}

		if ticker != nil {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}
}

func (s *softwareStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	return nil
}

func (s *softwareStream) Close() error {
	return s.Stop()
}
