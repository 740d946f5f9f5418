package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/metrics"
	"github.com/joliva/XChatterPi/internal/stream"
)

const (
	// DefaultPollInterval bounds sensor and timer polling to 10 Hz
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultPulse is how long trigger-out is held high
	DefaultPulse = 500 * time.Millisecond
)

// ErrNoSensor is returned when the PIR policy runs without a sensor
var ErrNoSensor = errors.New("trigger policy PIR requires a sensor")

// State is the controller state
type State int32

const (
	Idle State = iota
	AmbientPlaying
	VocalPlaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AmbientPlaying:
		return "ambient"
	case VocalPlaying:
		return "vocal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Event is what started a vocal session
type Event string

const (
	SensorEdge   Event = "sensor_edge"
	TimerElapsed Event = "timer_elapsed"
	ManualStart  Event = "manual_start"
)

// Player runs audio sessions
type Player interface {
	PlayFile(ctx context.Context, cfg *config.Config, path string) (stream.Result, error)
	PlayAmbient(ctx context.Context, cfg *config.Config, path string) (stream.Result, error)
	Capture(ctx context.Context, cfg *config.Config, maxDuration time.Duration) (stream.Result, error)
	Close() error
}

// ConfigSource returns the configuration snapshot to use for the next session
type ConfigSource interface {
	Current() *config.Config
}

// Library hands out tracks
type Library interface {
	NextVocal() (string, bool)
	NextAmbient() (string, bool)
}

// Status is a point-in-time view of the controller
type Status struct {
	State         string    `json:"state"`
	VocalSessions int64     `json:"vocal_sessions"`
	LastEvent     Event     `json:"last_event,omitempty"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
}

// Controller decides when the prop speaks. It owns the sensor and the eyes and
// trigger-out outputs, and releases all of them when Run or PlayOnce returns.
type Controller struct {
	player     Player
	configs    ConfigSource
	library    Library
	sensor     hardware.SensorPort
	eyes       hardware.OutputPort
	triggerOut hardware.OutputPort
	logger     *slog.Logger
	metrics    *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	poll  time.Duration
	pulse time.Duration

	state     atomic.Int32
	interrupt atomic.Bool
	vocals    atomic.Int64

	mu          sync.Mutex
	lastEvent   Event
	lastEventAt time.Time

	cleanupOnce sync.Once
}

// Option configures a Controller
type Option func(*Controller)

// WithOutputs sets the eyes and trigger-out outputs; either may be nil
func WithOutputs(eyes, triggerOut hardware.OutputPort) Option {
	return func(c *Controller) {
		c.eyes = eyes
		c.triggerOut = triggerOut
	}
}

// WithMetrics records controller metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithSleep replaces the context-aware sleep used for delays and polling
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithPollInterval overrides the sensor and timer polling period
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.poll = d
	}
}

// WithPulse overrides the trigger-out hold time
func WithPulse(d time.Duration) Option {
	return func(c *Controller) {
		c.pulse = d
	}
}

// New creates a controller
func New(player Player, configs ConfigSource, library Library, sensor hardware.SensorPort, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		player:  player,
		configs: configs,
		library: library,
		sensor:  sensor,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		poll:    DefaultPollInterval,
		pulse:   DefaultPulse,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status returns a snapshot for the status endpoint
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		State:         c.State().String(),
		VocalSessions: c.vocals.Load(),
		LastEvent:     c.lastEvent,
		LastEventAt:   c.lastEventAt,
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetControllerState(int(s))
}

// Run executes the configured trigger policy until ctx is cancelled, or once
// for START. Cancellation is a normal return. Any failure, including a panic,
// ends the loop; outputs are released on every path.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer c.cleanup()
	defer c.recoverPanic(&err)

	cfg := c.configs.Current()
	c.logger.Info("Controller started",
		slog.String("trigger", string(cfg.Prop.Trigger)),
		slog.Bool("ambient", cfg.Audio.Ambient),
		slog.String("source", string(cfg.Audio.Source)),
	)

	switch cfg.Prop.Trigger {
	case config.TriggerStart:
		err = c.vocal(ctx, ManualStart, "")
	case config.TriggerTimer:
		if cfg.Audio.Ambient {
			err = c.runTimerAmbient(ctx)
		} else {
			err = c.runTimer(ctx)
		}
	case config.TriggerPIR:
		if c.sensor == nil {
			return ErrNoSensor
		}
		if cfg.Audio.Ambient {
			err = c.runSensorAmbient(ctx)
		} else {
			err = c.runSensor(ctx)
		}
	default:
		err = fmt.Errorf("unknown trigger policy %q", cfg.Prop.Trigger)
	}

	if errors.Is(err, context.Canceled) {
		c.logger.Info("Controller stopped")
		return nil
	}
	return err
}

// PlayOnce plays path as a vocal track, bypassing the trigger policy
func (c *Controller) PlayOnce(ctx context.Context, path string) (err error) {
	defer c.cleanup()
	defer c.recoverPanic(&err)

	err = c.vocal(ctx, ManualStart, path)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) recoverPanic(err *error) {
	if r := recover(); r != nil {
		c.logger.Error("Controller panic, releasing outputs", slog.Any("panic", r))
		*err = fmt.Errorf("controller panic: %v", r)
	}
}

func (c *Controller) runTimerAmbient(ctx context.Context) error {
	for {
		deadline := c.now().Add(c.configs.Current().Prop.GetDelay())
		expired := func() bool {
			return !c.now().Before(deadline)
		}

		if err := c.ambientUntil(ctx, expired); err != nil {
			return err
		}
		if c.interrupt.CompareAndSwap(true, false) {
			c.sessionDone(c.vocal(ctx, TimerElapsed, ""))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Controller) runSensorAmbient(ctx context.Context) error {
	if err := c.sleep(ctx, c.configs.Current().Prop.GetDelay()); err != nil {
		return err
	}

	for {
		if err := c.ambientUntil(ctx, c.sensor.IsPressed); err != nil {
			return err
		}
		if c.interrupt.CompareAndSwap(true, false) {
			c.sessionDone(c.vocal(ctx, SensorEdge, ""))
			if err := c.sleep(ctx, c.configs.Current().Prop.GetDelay()); err != nil {
				return err
			}
		}
	}
}

// runTimer speaks every delay without ambient audio. Elapsed time is checked
// at the poll interval.
func (c *Controller) runTimer(ctx context.Context) error {
	c.setState(Idle)
	start := c.now()

	for {
		if c.now().Sub(start) >= c.configs.Current().Prop.GetDelay() {
			c.sessionDone(c.vocal(ctx, TimerElapsed, ""))
			start = c.now()
		}
		if err := c.sleep(ctx, c.poll); err != nil {
			return err
		}
	}
}

func (c *Controller) runSensor(ctx context.Context) error {
	for {
		c.setState(Idle)
		if err := c.sensor.WaitForPress(ctx); err != nil {
			return err
		}
		c.sessionDone(c.vocal(ctx, SensorEdge, ""))
		if err := c.sleep(ctx, c.configs.Current().Prop.GetDelay()); err != nil {
			return err
		}
	}
}

// ambientUntil loops ambient tracks until fire reports true, which it checks
// from a poller at the poll interval. On firing the interrupt flag is set and
// the playing track is stopped. Without ambient tracks it just polls.
func (c *Controller) ambientUntil(ctx context.Context, fire func() bool) error {
	c.interrupt.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		actx, cancel := context.WithCancel(ctx)
		polled := make(chan struct{})
		go func() {
			defer close(polled)
			ticker := time.NewTicker(c.poll)
			defer ticker.Stop()

			for {
				select {
				case <-actx.Done():
					return
				case <-ticker.C:
					if fire() {
						c.interrupt.Store(true)
						cancel()
						return
					}
				}
			}
		}()

		if path, ok := c.library.NextAmbient(); ok {
			c.setState(AmbientPlaying)
			if _, err := c.player.PlayAmbient(actx, c.configs.Current(), path); err != nil {
				c.logger.Warn("Ambient track failed",
					slog.String("track", path),
					slog.String("error", err.Error()),
				)
				select {
				case <-actx.Done():
				case <-time.After(time.Second):
				}
			}
		} else {
			c.setState(Idle)
			<-actx.Done()
		}

		cancel()
		<-polled

		if c.interrupt.Load() {
			return nil
		}
	}
}

// vocal runs one vocal session. A fresh configuration snapshot is taken first
// so thresholds edited since the last session apply.
func (c *Controller) vocal(ctx context.Context, event Event, path string) error {
	cfg := c.configs.Current()

	c.mu.Lock()
	c.lastEvent = event
	c.lastEventAt = c.now()
	c.mu.Unlock()

	c.metrics.RecordTriggerEvent(string(event))
	c.setState(VocalPlaying)
	defer c.setState(Idle)

	c.logger.Info("Trigger fired", slog.String("event", string(event)))

	if cfg.Prop.Eyes && c.eyes != nil {
		if err := c.eyes.On(); err != nil {
			c.logger.Warn("Failed to turn eyes on", slog.String("error", err.Error()))
		}
		defer c.eyes.Off()
	}

	if cfg.Prop.TriggerOut && c.triggerOut != nil {
		if err := c.pulseTriggerOut(ctx); err != nil {
			return err
		}
	}

	var err error
	switch {
	case path != "":
		_, err = c.player.PlayFile(ctx, cfg, path)
	case cfg.Audio.Source == config.SourceFiles:
		next, ok := c.library.NextVocal()
		if !ok {
			c.logger.Warn("No vocal tracks found", slog.String("dir", cfg.Tracks.VocalDir))
			return nil
		}
		_, err = c.player.PlayFile(ctx, cfg, next)
	default:
		maxDuration := cfg.Audio.GetMicTime()
		if cfg.Prop.Trigger == config.TriggerStart {
			maxDuration = 0
		}
		_, err = c.player.Capture(ctx, cfg, maxDuration)
	}
	if err != nil {
		return err
	}

	c.vocals.Add(1)
	return nil
}

func (c *Controller) pulseTriggerOut(ctx context.Context) error {
	if err := c.triggerOut.On(); err != nil {
		c.logger.Warn("Failed to assert trigger out", slog.String("error", err.Error()))
		return nil
	}
	err := c.sleep(ctx, c.pulse)
	if offErr := c.triggerOut.Off(); offErr != nil {
		c.logger.Warn("Failed to de-assert trigger out", slog.String("error", offErr.Error()))
	}
	return err
}

// sessionDone logs a failed session. The loop carries on with the next trigger
// unless the failure was a cancellation, which the loop sees on its own.
func (c *Controller) sessionDone(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	c.logger.Error("Vocal session failed", slog.String("error", err.Error()))
}

// cleanup releases the sensor, outputs and player exactly once
func (c *Controller) cleanup() {
	c.cleanupOnce.Do(func() {
		c.setState(Idle)

		release := func(name string, fn func() error) {
			if err := fn(); err != nil {
				c.logger.Warn("Cleanup step failed",
					slog.String("step", name),
					slog.String("error", err.Error()),
				)
			}
		}

		if c.sensor != nil {
			release("close sensor", c.sensor.Close)
		}
		if c.eyes != nil {
			release("eyes off", c.eyes.Off)
			release("close eyes", c.eyes.Close)
		}
		if c.triggerOut != nil {
			release("trigger out off", c.triggerOut.Off)
			release("close trigger out", c.triggerOut.Close)
		}
		release("close player", c.player.Close)
	})
}
