package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joliva/XChatterPi/internal/audio"
	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/jaw"
	"github.com/joliva/XChatterPi/internal/metrics"
)

// ErrEngineClosed is returned for sessions requested after Close
var ErrEngineClosed = errors.New("audio engine closed")

// Kind identifies what a session does
type Kind string

const (
	KindVocal   Kind = "vocal"
	KindAmbient Kind = "ambient"
	KindCapture Kind = "capture"
)

// Reason describes how a session ended
type Reason string

const (
	Completed   Reason = "completed"
	Interrupted Reason = "interrupted"
	TimedOut    Reason = "timed_out"
)

// Result summarizes a finished session
type Result struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Track       string        `json:"track,omitempty"`
	Reason      Reason        `json:"reason"`
	Frames      int64         `json:"frames"`
	ServoWrites int64         `json:"servo_writes"`
	Duration    time.Duration `json:"duration"`
}

// Stats contains engine statistics
type Stats struct {
	Sessions    int64   `json:"sessions"`
	Failures    int64   `json:"failures"`
	ServoWrites int64   `json:"servo_writes"`
	Frames      int64   `json:"frames"`
	Active      Kind    `json:"active,omitempty"`
	Last        *Result `json:"last,omitempty"`
}

// Engine runs audio sessions one at a time. A session owns the stream, the
// device context and, for jaw sessions, the servo; all are torn down before the
// next session may start.
type Engine struct {
	backend   Backend
	platform  hardware.Platform
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	interval  time.Duration
	servoOpts []hardware.ServoOption

	sem       chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	sessions    atomic.Int64
	failures    atomic.Int64
	servoWrites atomic.Int64
	frames      atomic.Int64

	mu     sync.Mutex
	active Kind
	last   *Result
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the monotonic clock used for rate limiting
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records session metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithServoOptions passes options to every servo the engine creates
func WithServoOptions(opts ...hardware.ServoOption) Option {
	return func(e *Engine) {
		e.servoOpts = append(e.servoOpts, opts...)
	}
}

// WithUpdateInterval overrides the minimum spacing between jaw updates
func WithUpdateInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// NewEngine creates an engine
func NewEngine(backend Backend, platform hardware.Platform, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		platform: platform,
		logger:   logger,
		now:      time.Now,
		interval: DefaultUpdateInterval,
		sem:      make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlayFile plays a WAV file as a vocal track, moving the jaw
func (e *Engine) PlayFile(ctx context.Context, cfg *config.Config, path string) (Result, error) {
	track, err := audio.LoadWAV(path)
	if err != nil {
		return Result{Kind: KindVocal, Track: path}, err
	}
	return e.Play(ctx, cfg, track, KindVocal)
}

// PlayAmbient plays a WAV file without moving the jaw
func (e *Engine) PlayAmbient(ctx context.Context, cfg *config.Config, path string) (Result, error) {
	track, err := audio.LoadWAV(path)
	if err != nil {
		return Result{Kind: KindAmbient, Track: path}, err
	}
	return e.Play(ctx, cfg, track, KindAmbient)
}

// Play renders an in-memory track. Vocal tracks drive the jaw; ambient tracks
// only play. Cancelling ctx interrupts playback, which is not an error.
func (e *Engine) Play(ctx context.Context, cfg *config.Config, track *audio.Track, kind Kind) (Result, error) {
	if len(track.Samples) == 0 {
		return Result{Kind: kind, Track: track.Name}, fmt.Errorf("track %s has no audio", track.Name)
	}

	s := e.newSession(kind, cfg)
	s.track = track
	s.channels = track.Channels
	s.duplicateLeft = track.Channels == 2 && cfg.Audio.OutputChannels == config.OutputLeft

	return e.run(ctx, s, 0, func(DeviceContext) (StreamParams, error) {
		if kind == KindVocal {
			s.enableJaw(cfg, track.SampleRate)
		}
		return StreamParams{
			SampleRate:      track.SampleRate,
			FramesPerBuffer: cfg.Audio.BufferSize,
			OutputChannels:  track.Channels,
		}, nil
	})
}

// Capture runs a full-duplex microphone session: captured audio drives the jaw
// and is echoed to the output. A positive maxDuration closes the session even
// while audio is still flowing.
func (e *Engine) Capture(ctx context.Context, cfg *config.Config, maxDuration time.Duration) (Result, error) {
	s := e.newSession(KindCapture, cfg)
	s.channels = 1

	return e.run(ctx, s, maxDuration, func(dev DeviceContext) (StreamParams, error) {
		rate, err := dev.InputSampleRate(cfg.Audio.InputDevice)
		if err != nil {
			return StreamParams{}, err
		}
		s.enableJaw(cfg, rate)
		return StreamParams{
			SampleRate:      rate,
			FramesPerBuffer: cfg.Audio.BufferSize,
			InputChannels:   1,
			OutputChannels:  1,
			InputDevice:     cfg.Audio.InputDevice,
		}, nil
	})
}

// Devices lists the backend's audio devices
func (e *Engine) Devices() ([]DeviceInfo, error) {
	dev, err := e.backend.Acquire()
	if err != nil {
		return nil, err
	}
	defer dev.Release()
	return dev.Devices()
}

// Stats returns engine statistics
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Sessions:    e.sessions.Load(),
		Failures:    e.failures.Load(),
		ServoWrites: e.servoWrites.Load(),
		Frames:      e.frames.Load(),
		Active:      e.active,
		Last:        e.last,
	}
}

// Close interrupts any running session, waits for its teardown and refuses
// further sessions. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closing)
		e.sem <- struct{}{}
		e.closed.Store(true)
		<-e.sem
	})
	return nil
}

func (e *Engine) newSession(kind Kind, cfg *config.Config) *session {
	return &session{
		id:      uuid.NewString(),
		kind:    kind,
		cfg:     cfg,
		now:     e.now,
		metrics: e.metrics,
		done:    make(chan struct{}),
	}
}

func (e *Engine) setActive(kind Kind, res *Result) {
	e.mu.Lock()
	e.active = kind
	if res != nil {
		e.last = res
	}
	e.mu.Unlock()
}

func (e *Engine) acquireSlot(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closing:
		return ErrEngineClosed
	}
	if e.closed.Load() {
		<-e.sem
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) run(ctx context.Context, s *session, maxDuration time.Duration, prepare func(DeviceContext) (StreamParams, error)) (Result, error) {
	res := Result{ID: s.id, Kind: s.kind}
	if s.track != nil {
		res.Track = s.track.Name
	}

	if err := e.acquireSlot(ctx); err != nil {
		if errors.Is(err, ErrEngineClosed) {
			return res, err
		}
		res.Reason = Interrupted
		return res, nil
	}
	defer func() { <-e.sem }()

	started := e.now()
	e.sessions.Add(1)
	e.setActive(s.kind, nil)
	e.metrics.RecordSessionStarted(string(s.kind))

	logger := e.logger.With(
		slog.String("session_id", s.id),
		slog.String("kind", string(s.kind)),
	)
	logger.Info("Audio session started", slog.String("track", res.Track))

	td := &teardown{logger: logger}
	defer td.run()

	fail := func(err error) (Result, error) {
		td.run()
		e.failures.Add(1)
		e.metrics.RecordSessionFailed(string(s.kind))
		e.setActive("", nil)
		logger.Error("Audio session failed", slog.String("error", err.Error()))
		return res, err
	}

	dev, err := e.backend.Acquire()
	if err != nil {
		return fail(fmt.Errorf("acquire %s audio: %w", e.backend.Name(), err))
	}
	td.device = dev

	params, err := prepare(dev)
	if err != nil {
		return fail(err)
	}

	if s.mapper != nil {
		servo, err := e.platform.CreateServo(jaw.ServoSpec(s.cfg), e.servoOpts...)
		if err != nil {
			return fail(fmt.Errorf("create jaw servo: %w", err))
		}
		s.servo = servo
		s.gate = NewRateGate(e.interval)
		td.servo = servo
	}

	stream, err := dev.Open(params, s.process)
	if err != nil {
		return fail(fmt.Errorf("open stream: %w", err))
	}
	td.stream = stream

	if err := stream.Start(); err != nil {
		return fail(fmt.Errorf("start stream: %w", err))
	}

	res.Reason = e.wait(ctx, s, params, maxDuration)
	td.run()

	res.Frames = s.frames.Load()
	res.ServoWrites = s.writes.Load()
	res.Duration = e.now().Sub(started)

	e.frames.Add(res.Frames)
	e.servoWrites.Add(res.ServoWrites)
	e.metrics.RecordSessionEnded(string(s.kind), string(res.Reason), res.Duration.Seconds())
	e.setActive("", &res)

	logger.Info("Audio session ended",
		slog.String("reason", string(res.Reason)),
		slog.Int64("frames", res.Frames),
		slog.Int64("servo_writes", res.ServoWrites),
		slog.Duration("duration", res.Duration),
	)

	if err := s.servoError(); err != nil {
		return res, fmt.Errorf("jaw servo: %w", err)
	}
	return res, nil
}

// wait blocks until the callback finishes the session or a stop is requested.
// A requested stop is honored by the callback on its next invocation; if the
// stream has gone quiet the wait gives up after a few buffer periods.
func (e *Engine) wait(ctx context.Context, s *session, params StreamParams, maxDuration time.Duration) Reason {
	var timeout <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	var reason Reason
	select {
	case <-s.done:
		return Completed
	case <-ctx.Done():
		reason = Interrupted
	case <-e.closing:
		reason = Interrupted
	case <-timeout:
		reason = TimedOut
	}

	s.stopRequested.Store(true)

	drain := 4*time.Duration(params.FramesPerBuffer)*time.Second/time.Duration(params.SampleRate) + 100*time.Millisecond
	select {
	case <-s.done:
	case <-time.After(drain):
	}
	return reason
}

// teardown releases session resources in order, exactly once
type teardown struct {
	once   sync.Once
	logger *slog.Logger
	stream Stream
	device DeviceContext
	servo  hardware.ServoPort
}

func (t *teardown) run() {
	t.once.Do(func() {
		step := func(name string, fn func() error) {
			if err := fn(); err != nil {
				t.logger.Warn("Session teardown step failed",
					slog.String("step", name),
					slog.String("error", err.Error()),
				)
			}
		}

		if t.stream != nil {
			step("stop stream", t.stream.Stop)
			step("close stream", t.stream.Close)
		}
		if t.device != nil {
			step("release device", t.device.Release)
		}
		if t.servo != nil {
			step("release servo", t.servo.Release)
			step("close servo", t.servo.Close)
		}
	})
}

// session is the state shared between the control goroutine and the audio callback
type session struct {
	id      string
	kind    Kind
	cfg     *config.Config
	now     func() time.Time
	metrics *metrics.Metrics

	// callback-owned
	track         *audio.Track
	pos           int
	channels      int
	duplicateLeft bool
	estimator     *audio.Estimator
	mapper        *jaw.Mapper
	servo         hardware.ServoPort
	gate          *RateGate

	stopRequested atomic.Bool
	done          chan struct{}
	doneOnce      sync.Once
	frames        atomic.Int64
	writes        atomic.Int64
	servoErr      atomic.Pointer[error]
}

func (s *session) enableJaw(cfg *config.Config, sampleRate int) {
	s.mapper = jaw.FromConfig(cfg)
	s.estimator = audio.NewEstimator(s.mapper.Filtered(), sampleRate)
}

func (s *session) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func (s *session) servoError() error {
	if p := s.servoErr.Load(); p != nil {
		return *p
	}
	return nil
}

// process is the real-time callback. It never blocks: one buffer is copied,
// and at most once per gate interval the jaw angle is recomputed and written.
func (s *session) process(in, out []int16) bool {
	start := s.now()

	if s.stopRequested.Load() {
		clear(out)
		s.finish()
		return false
	}

	var samples []int16
	more := true
	if s.track != nil {
		n := copy(out, s.track.Samples[s.pos:])
		clear(out[n:])
		s.pos += n
		samples = out[:n]
		more = s.pos < len(s.track.Samples)
	} else {
		samples = in
		if out != nil {
			n := copy(out, in)
			clear(out[n:])
		}
	}

	limited := false
	if s.servo != nil && len(samples) > 0 && s.servoErr.Load() == nil {
		if s.gate.Allow(start) {
			loudness := s.estimator.Estimate(samples, s.channels)
			err := s.servo.SetAngle(s.mapper.Map(loudness))
			s.metrics.RecordServoWrite(loudness, err)
			if err != nil {
				s.servoErr.CompareAndSwap(nil, &err)
			} else {
				s.writes.Add(1)
			}
		} else {
			limited = true
		}
	}

	// Loudness is taken from the right channel before it is overwritten
	if s.duplicateLeft {
		audio.DuplicateLeft(out, 2)
	}

	if s.channels > 0 {
		s.frames.Add(int64(len(samples) / s.channels))
	}
	s.metrics.RecordBuffer(limited, s.now().Sub(start).Seconds())

	if !more {
		s.finish()
		return false
	}
	return true
}
