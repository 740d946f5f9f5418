package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	servoFrequency = 50 * physic.Hertz
	servoPeriod    = 20 * time.Millisecond
	edgePoll       = 100 * time.Millisecond
)

// periphPlatform drives BCM GPIO pins through periph.io. Pins that cannot be
// claimed fall back to simulated devices.
type periphPlatform struct {
	logger   *slog.Logger
	fallback *SimPlatform
}

func newPeriphPlatform(opts Options, logger *slog.Logger) (*periphPlatform, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	return &periphPlatform{
		logger:   logger.With(slog.String("platform", RaspberryPi.String())),
		fallback: NewSimulated(Simulated, opts, logger),
	}, nil
}

func (p *periphPlatform) Kind() Kind {
	return RaspberryPi
}

func (p *periphPlatform) pin(n int) (gpio.PinIO, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("GPIO%d not found", n)
	}
	return pin, nil
}

func (p *periphPlatform) CreateServo(spec ServoSpec, opts ...ServoOption) (ServoPort, error) {
	if o := collectServoOptions(opts); o.handler != nil {
		return &handlerServo{fn: o.handler}, nil
	}

	pin, err := p.pin(spec.Pin)
	if err != nil {
		p.logger.Warn("Servo pin unavailable, using simulated servo",
			slog.Int("pin", spec.Pin),
			slog.String("error", err.Error()),
		)
		return p.fallback.CreateServo(spec)
	}

	return &pwmServo{pin: pin, spec: spec}, nil
}

func (p *periphPlatform) CreateButton(n int, pullUp bool) (SensorPort, error) {
	pin, err := p.pin(n)
	if err == nil {
		pull := gpio.PullDown
		if pullUp {
			pull = gpio.PullUp
		}
		err = pin.In(pull, gpio.BothEdges)
	}
	if err != nil {
		p.logger.Warn("Sensor pin unavailable, using simulated sensor",
			slog.Int("pin", n),
			slog.String("error", err.Error()),
		)
		return p.fallback.CreateButton(n, pullUp)
	}

	active := gpio.High
	if pullUp {
		active = gpio.Low
	}
	return &gpioButton{pin: pin, active: active}, nil
}

func (p *periphPlatform) CreateOutput(n int) (OutputPort, error) {
	pin, err := p.pin(n)
	if err == nil {
		err = pin.Out(gpio.Low)
	}
	if err != nil {
		p.logger.Warn("Output pin unavailable, using simulated output",
			slog.Int("pin", n),
			slog.String("error", err.Error()),
		)
		return p.fallback.CreateOutput(n)
	}

	return &gpioOutput{pin: pin}, nil
}

func (p *periphPlatform) SystemInfo() SystemInfo {
	return collectSystemInfo(RaspberryPi)
}

// pwmServo generates a 50 Hz servo signal
type pwmServo struct {
	pin  gpio.PinIO
	spec ServoSpec

	mu     sync.Mutex
	closed bool
}

func (s *pwmServo) SetAngle(angle float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	pulse := s.spec.PulseFor(angle)
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(servoPeriod))
	if err := s.pin.PWM(duty, servoFrequency); err != nil {
		return fmt.Errorf("servo GPIO%d: %w", s.spec.Pin, err)
	}
	return nil
}

func (s *pwmServo) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.pin.Out(gpio.Low)
}

func (s *pwmServo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pin.Out(gpio.Low); err != nil {
		return err
	}
	return s.pin.Halt()
}

type gpioButton struct {
	pin    gpio.PinIO
	active gpio.Level

	mu     sync.Mutex
	closed bool
}

func (b *gpioButton) IsPressed() bool {
	return b.pin.Read() == b.active
}

func (b *gpioButton) WaitForPress(ctx context.Context) error {
	for {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return ErrClosed
		}

		if b.IsPressed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		b.pin.WaitForEdge(edgePoll)
	}
}

func (b *gpioButton) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pin.Halt()
}

type gpioOutput struct {
	pin gpio.PinIO

	mu     sync.Mutex
	closed bool
}

func (o *gpioOutput) write(l gpio.Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	return o.pin.Out(l)
}

func (o *gpioOutput) On() error {
	return o.write(gpio.High)
}

func (o *gpioOutput) Off() error {
	return o.write(gpio.Low)
}

func (o *gpioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.pin.Out(gpio.Low); err != nil {
		return err
	}
	return o.pin.Halt()
}
