package hardware

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ServoOpKind identifies a recorded servo operation
type ServoOpKind int

const (
	OpSetAngle ServoOpKind = iota
	OpRelease
	OpClose
)

func (k ServoOpKind) String() string {
	switch k {
	case OpSetAngle:
		return "set"
	case OpRelease:
		return "release"
	case OpClose:
		return "close"
	default:
		return "unknown"
	}
}

// ServoOp is one recorded servo call
type ServoOp struct {
	Kind  ServoOpKind
	Angle float64
}

// SimPlatform is the software-only platform. It keeps every device it creates
// so callers can inspect what the prop did.
type SimPlatform struct {
	kind   Kind
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	servos  []*SimServo
	buttons map[int]*SimButton
	outputs map[int]*SimOutput
}

// NewSimulated creates a software platform reporting kind
func NewSimulated(kind Kind, opts Options, logger *slog.Logger) *SimPlatform {
	return &SimPlatform{
		kind:    kind,
		opts:    opts,
		logger:  logger.With(slog.String("platform", kind.String())),
		buttons: make(map[int]*SimButton),
		outputs: make(map[int]*SimOutput),
	}
}

func (p *SimPlatform) Kind() Kind {
	return p.kind
}

func (p *SimPlatform) CreateServo(spec ServoSpec, opts ...ServoOption) (ServoPort, error) {
	if o := collectServoOptions(opts); o.handler != nil {
		return &handlerServo{fn: o.handler}, nil
	}

	s := &SimServo{spec: spec, logger: p.logger}
	p.mu.Lock()
	p.servos = append(p.servos, s)
	p.mu.Unlock()
	return s, nil
}

func (p *SimPlatform) CreateButton(pin int, pullUp bool) (SensorPort, error) {
	b := newSimButton(pin, p.logger)
	if p.opts.SensorInterval > 0 {
		b.autoAssert(p.opts.SensorInterval)
	}
	p.mu.Lock()
	p.buttons[pin] = b
	p.mu.Unlock()
	return b, nil
}

func (p *SimPlatform) CreateOutput(pin int) (OutputPort, error) {
	o := &SimOutput{pin: pin, logger: p.logger}
	p.mu.Lock()
	p.outputs[pin] = o
	p.mu.Unlock()
	return o, nil
}

func (p *SimPlatform) SystemInfo() SystemInfo {
	return collectSystemInfo(p.kind)
}

// Servos returns every servo created so far
func (p *SimPlatform) Servos() []*SimServo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*SimServo(nil), p.servos...)
}

// Button returns the button created on pin, or nil
func (p *SimPlatform) Button(pin int) *SimButton {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buttons[pin]
}

// Output returns the output created on pin, or nil
func (p *SimPlatform) Output(pin int) *SimOutput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputs[pin]
}

// SimServo logs and records every operation
type SimServo struct {
	spec   ServoSpec
	logger *slog.Logger

	mu     sync.Mutex
	ops    []ServoOp
	closed bool
}

func (s *SimServo) SetAngle(angle float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ops = append(s.ops, ServoOp{Kind: OpSetAngle, Angle: angle})
	s.logger.Debug("Servo angle",
		slog.Int("pin", s.spec.Pin),
		slog.Float64("angle", angle),
		slog.Duration("pulse", s.spec.PulseFor(angle)),
	)
	return nil
}

func (s *SimServo) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.ops = append(s.ops, ServoOp{Kind: OpRelease})
	s.logger.Debug("Servo released", slog.Int("pin", s.spec.Pin))
	return nil
}

func (s *SimServo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ops = append(s.ops, ServoOp{Kind: OpClose})
	return nil
}

// Ops returns a copy of the recorded operations
func (s *SimServo) Ops() []ServoOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServoOp(nil), s.ops...)
}

// Writes counts SetAngle calls
func (s *SimServo) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if op.Kind == OpSetAngle {
			n++
		}
	}
	return n
}

// SimButton is a software input asserted with Press and cleared with Clear
type SimButton struct {
	pin    int
	logger *slog.Logger

	mu      sync.Mutex
	pressed bool
	edge    chan struct{}
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newSimButton(pin int, logger *slog.Logger) *SimButton {
	return &SimButton{
		pin:    pin,
		logger: logger,
		edge:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Press asserts the input and wakes any waiter
func (b *SimButton) Press() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.pressed {
		return
	}
	b.pressed = true
	close(b.edge)
	b.edge = make(chan struct{})
	b.logger.Debug("Sensor asserted", slog.Int("pin", b.pin))
}

// Clear de-asserts the input
func (b *SimButton) Clear() {
	b.mu.Lock()
	b.pressed = false
	b.mu.Unlock()
}

func (b *SimButton) IsPressed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressed
}

func (b *SimButton) WaitForPress(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.pressed {
		b.mu.Unlock()
		return nil
	}
	edge := b.edge
	b.mu.Unlock()

	select {
	case <-edge:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stop:
		return ErrClosed
	}
}

func (b *SimButton) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.pressed = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// autoAssert presses the button every interval and releases it half a second later
func (b *SimButton) autoAssert(interval time.Duration) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.Press()
				select {
				case <-b.stop:
					return
				case <-time.After(500 * time.Millisecond):
					b.Clear()
				}
			}
		}
	}()
}

// SimOutput records the level of a digital output
type SimOutput struct {
	pin    int
	logger *slog.Logger

	mu      sync.Mutex
	on      bool
	history []bool
	closed  bool
}

func (o *SimOutput) set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.on = on
	o.history = append(o.history, on)
	o.logger.Debug("Output changed", slog.Int("pin", o.pin), slog.Bool("on", on))
	return nil
}

func (o *SimOutput) On() error {
	return o.set(true)
}

func (o *SimOutput) Off() error {
	return o.set(false)
}

func (o *SimOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.on = false
	return nil
}

// IsOn reports the current level
func (o *SimOutput) IsOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}

// IsClosed reports whether Close was called
func (o *SimOutput) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// History returns every level written, oldest first
func (o *SimOutput) History() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.history...)
}
