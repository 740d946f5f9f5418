package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joliva/XChatterPi/internal/audio"
	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventLog collects teardown steps across the stream, device and servo
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeBackend drives callbacks from a goroutine, advancing a fake clock by step
// after each buffer and sleeping pace between buffers
type fakeBackend struct {
	clock      *fakeClock
	step       time.Duration
	pace       time.Duration
	log        *eventLog
	acquireErr error
	inputLevel int16

	mu      sync.Mutex
	opened  []StreamParams
	outputs [][]int16

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Acquire() (DeviceContext, error) {
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	return &fakeContext{backend: b}, nil
}

type fakeContext struct {
	backend *fakeBackend
}

func (c *fakeContext) Open(params StreamParams, fn ProcessFunc) (Stream, error) {
	b := c.backend
	n := b.open.Add(1)
	for {
		max := b.maxOpen.Load()
		if n <= max || b.maxOpen.CompareAndSwap(max, n) {
			break
		}
	}

	b.mu.Lock()
	b.opened = append(b.opened, params)
	b.mu.Unlock()

	return &fakeStream{backend: b, params: params, fn: fn, stop: make(chan struct{}), finished: make(chan struct{})}, nil
}

func (c *fakeContext) InputSampleRate(string) (int, error) { return 48000, nil }

func (c *fakeContext) Devices() ([]DeviceInfo, error) { return []DeviceInfo{{Name: "fake"}}, nil }

func (c *fakeContext) Release() error {
	c.backend.log.add("device.release")
	return nil
}

type fakeStream struct {
	backend  *fakeBackend
	params   StreamParams
	fn       ProcessFunc
	stop     chan struct{}
	finished chan struct{}
	started  bool
	stopOnce sync.Once
	closed   bool
}

func (s *fakeStream) Start() error {
	s.started = true
	go func() {
		defer close(s.finished)
		var in []int16
		if s.params.InputChannels > 0 {
			in = make([]int16, s.params.FramesPerBuffer*s.params.InputChannels)
			for i := range in {
				in[i] = s.backend.inputLevel
			}
		}
		out := make([]int16, s.params.FramesPerBuffer*s.params.OutputChannels)
		for {
			select {
			case <-s.stop:
				return
			default:
			}
			cont := s.fn(in, out)
			s.backend.mu.Lock()
			s.backend.outputs = append(s.backend.outputs, append([]int16(nil), out...))
			s.backend.mu.Unlock()
			if s.backend.clock != nil {
				s.backend.clock.Advance(s.backend.step)
			}
			if !cont {
				return
			}
			if s.backend.pace > 0 {
				time.Sleep(s.backend.pace)
			}
		}
	}()
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopOnce.Do(func() {
		s.backend.log.add("stream.stop")
		close(s.stop)
	})
	if s.started {
		<-s.finished
	}
	return nil
}

func (s *fakeStream) Close() error {
	if !s.closed {
		s.closed = true
		s.backend.open.Add(-1)
		s.backend.log.add("stream.close")
	}
	return nil
}

// loggingServo records servo calls into the shared event log
type loggingServo struct {
	log    *eventLog
	writes atomic.Int32
}

func (s *loggingServo) SetAngle(float64) error {
	s.writes.Add(1)
	return nil
}

func (s *loggingServo) Release() error {
	s.log.add("servo.release")
	return nil
}

func (s *loggingServo) Close() error {
	s.log.add("servo.close")
	return nil
}

type loggingPlatform struct {
	*hardware.SimPlatform
	servo *loggingServo
}

func (p *loggingPlatform) CreateServo(hardware.ServoSpec, ...hardware.ServoOption) (hardware.ServoPort, error) {
	return p.servo, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.BufferSize = 240
	cfg.Controller.Style = config.StyleThreshold
	cfg.Controller.Threshold = 1000
	return cfg
}

func constantTrack(frames, channels int, left, right int16) *audio.Track {
	samples := make([]int16, frames*channels)
	for i := range samples {
		if channels == 2 && i%2 == 0 {
			samples[i] = left
		} else {
			samples[i] = right
		}
	}
	return &audio.Track{Name: "test.wav", Samples: samples, SampleRate: 48000, Channels: channels}
}

func newSimPlatform() *hardware.SimPlatform {
	return hardware.NewSimulated(hardware.Simulated, hardware.Options{}, discardLogger())
}

func TestRateLimitedServoWrites(t *testing.T) {
	clock := newFakeClock()
	backend := &fakeBackend{clock: clock, step: 5 * time.Millisecond, log: &eventLog{}}
	platform := newSimPlatform()
	engine := NewEngine(backend, platform, discardLogger(), WithClock(clock.Now))

	cfg := testConfig()
	// 100 buffers of 240 frames, one every 5ms on the fake clock
	track := constantTrack(100*240, 1, 0, 5000)

	res, err := engine.Play(context.Background(), cfg, track, KindVocal)
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Reason)
	assert.Equal(t, int64(100*240), res.Frames)
	assert.LessOrEqual(t, res.ServoWrites, int64(25))
	assert.Equal(t, int64(25), res.ServoWrites)

	servos := platform.Servos()
	require.Len(t, servos, 1)
	assert.Equal(t, 25, servos[0].Writes())
}

func TestServoReleasedThenClosedLast(t *testing.T) {
	tests := []struct {
		name   string
		run    func(ctx context.Context, cancel context.CancelFunc, e *Engine, cfg *config.Config) (Result, error)
		reason Reason
	}{
		{
			name: "completed",
			run: func(ctx context.Context, _ context.CancelFunc, e *Engine, cfg *config.Config) (Result, error) {
				return e.Play(ctx, cfg, constantTrack(2400, 1, 0, 3000), KindVocal)
			},
			reason: Completed,
		},
		{
			name: "interrupted",
			run: func(ctx context.Context, cancel context.CancelFunc, e *Engine, cfg *config.Config) (Result, error) {
				time.AfterFunc(30*time.Millisecond, cancel)
				return e.Play(ctx, cfg, constantTrack(48000*60, 1, 0, 3000), KindVocal)
			},
			reason: Interrupted,
		},
		{
			name: "capture timeout",
			run: func(ctx context.Context, _ context.CancelFunc, e *Engine, cfg *config.Config) (Result, error) {
				return e.Capture(ctx, cfg, 30*time.Millisecond)
			},
			reason: TimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{pace: time.Millisecond, log: &eventLog{}, inputLevel: 4000}
			platform := newSimPlatform()
			engine := NewEngine(backend, platform, discardLogger())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := tt.run(ctx, cancel, engine, testConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.reason, res.Reason)

			servos := platform.Servos()
			require.Len(t, servos, 1)
			ops := servos[0].Ops()
			require.GreaterOrEqual(t, len(ops), 2)
			assert.Equal(t, hardware.OpRelease, ops[len(ops)-2].Kind)
			assert.Equal(t, hardware.OpClose, ops[len(ops)-1].Kind)
			for _, op := range ops[:len(ops)-2] {
				assert.Equal(t, hardware.OpSetAngle, op.Kind)
			}

			assert.Equal(t, []string{"stream.stop", "stream.close", "device.release"}, backend.log.all())
		})
	}
}

func TestTeardownOrder(t *testing.T) {
	log := &eventLog{}
	backend := &fakeBackend{pace: time.Millisecond, log: log}
	platform := &loggingPlatform{SimPlatform: newSimPlatform(), servo: &loggingServo{log: log}}
	engine := NewEngine(backend, platform, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := engine.Play(ctx, testConfig(), constantTrack(48000*60, 1, 0, 3000), KindVocal)
	require.NoError(t, err)
	assert.Equal(t, Interrupted, res.Reason)
	assert.Positive(t, platform.servo.writes.Load())

	assert.Equal(t, []string{
		"stream.stop",
		"stream.close",
		"device.release",
		"servo.release",
		"servo.close",
	}, log.all())
}

func TestAmbientDoesNotMoveJaw(t *testing.T) {
	backend := &fakeBackend{log: &eventLog{}}
	platform := newSimPlatform()
	engine := NewEngine(backend, platform, discardLogger())

	res, err := engine.Play(context.Background(), testConfig(), constantTrack(4800, 2, 100, 9000), KindAmbient)
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Reason)
	assert.Zero(t, res.ServoWrites)
	assert.Empty(t, platform.Servos())
	assert.Equal(t, []string{"stream.stop", "stream.close", "device.release"}, backend.log.all())
}

func TestLeftChannelDuplication(t *testing.T) {
	backend := &fakeBackend{log: &eventLog{}}
	platform := newSimPlatform()
	engine := NewEngine(backend, platform, discardLogger())

	cfg := testConfig()
	cfg.Audio.OutputChannels = config.OutputLeft

	// Loud left, silent right: the jaw follows the right channel and stays closed
	res, err := engine.Play(context.Background(), cfg, constantTrack(480, 2, 30000, 0), KindVocal)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Reason)

	backend.mu.Lock()
	outputs := backend.outputs
	backend.mu.Unlock()
	require.NotEmpty(t, outputs)
	first := outputs[0]
	require.Len(t, first, 240*2)
	for i := 0; i < len(first); i += 2 {
		require.Equal(t, first[i], first[i+1], "frame %d", i/2)
	}
	assert.Equal(t, int16(30000), first[1])

	for _, op := range platform.Servos()[0].Ops() {
		if op.Kind == hardware.OpSetAngle {
			assert.Equal(t, float64(cfg.Servo.MinAngle), op.Angle)
		}
	}
}

func TestStereoBothKeepsChannels(t *testing.T) {
	backend := &fakeBackend{log: &eventLog{}}
	engine := NewEngine(backend, newSimPlatform(), discardLogger())

	_, err := engine.Play(context.Background(), testConfig(), constantTrack(240, 2, 7, 9), KindAmbient)
	require.NoError(t, err)

	first := backend.outputs[0]
	assert.Equal(t, int16(7), first[0])
	assert.Equal(t, int16(9), first[1])
}

func TestSessionsAreExclusive(t *testing.T) {
	backend := &fakeBackend{pace: time.Millisecond, log: &eventLog{}}
	engine := NewEngine(backend, newSimPlatform(), discardLogger())
	cfg := testConfig()

	ctx1, cancel1 := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel1()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = engine.Play(ctx1, cfg, constantTrack(48000*60, 1, 0, 100), KindAmbient)
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		defer wg.Done()
		results[1], _ = engine.Play(ctx2, cfg, constantTrack(2400, 1, 0, 100), KindAmbient)
	}()
	wg.Wait()

	assert.Equal(t, int32(1), backend.maxOpen.Load())
	assert.Equal(t, Interrupted, results[0].Reason)
	assert.Equal(t, Completed, results[1].Reason)
	assert.Equal(t, int64(2), engine.Stats().Sessions)
}

func TestAcquireFailureIsReported(t *testing.T) {
	backend := &fakeBackend{log: &eventLog{}, acquireErr: ErrDeviceUnavailable}
	platform := newSimPlatform()
	engine := NewEngine(backend, platform, discardLogger())

	_, err := engine.Play(context.Background(), testConfig(), constantTrack(240, 1, 0, 0), KindVocal)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Empty(t, platform.Servos(), "no servo is created without a device")
	assert.Equal(t, int64(1), engine.Stats().Failures)
}

func TestEngineClose(t *testing.T) {
	backend := &fakeBackend{pace: time.Millisecond, log: &eventLog{}}
	platform := newSimPlatform()
	engine := NewEngine(backend, platform, discardLogger())

	done := make(chan Result, 1)
	go func() {
		res, _ := engine.Play(context.Background(), testConfig(), constantTrack(48000*60, 1, 0, 3000), KindVocal)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	select {
	case res := <-done:
		assert.Equal(t, Interrupted, res.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after Close")
	}

	ops := platform.Servos()[0].Ops()
	assert.Equal(t, hardware.OpClose, ops[len(ops)-1].Kind)

	_, err := engine.Play(context.Background(), testConfig(), constantTrack(240, 1, 0, 0), KindVocal)
	assert.True(t, errors.Is(err, ErrEngineClosed))
}

func TestEmptyTrackRejected(t *testing.T) {
	engine := NewEngine(&fakeBackend{log: &eventLog{}}, newSimPlatform(), discardLogger())
	_, err := engine.Play(context.Background(), testConfig(), &audio.Track{Name: "empty.wav", SampleRate: 8000, Channels: 1}, KindVocal)
	assert.Error(t, err)
}
