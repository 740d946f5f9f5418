// Package hardware abstracts the GPIO surface of the prop: the jaw servo, the
// trigger sensor and the digital outputs for eyes and trigger-out. A Platform is
// chosen once at startup; every variant other than RaspberryPi is a software stub.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned when a device is used after Close
var ErrClosed = errors.New("device closed")

// Kind identifies a platform variant
type Kind int

const (
	Simulated Kind = iota
	RaspberryPi
	LinuxSoftware
	MacOSSoftware
)

func (k Kind) String() string {
	switch k {
	case Simulated:
		return "simulated"
	case RaspberryPi:
		return "raspberry-pi"
	case LinuxSoftware:
		return "linux-software"
	case MacOSSoftware:
		return "macos-software"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ServoPort drives the jaw servo
type ServoPort interface {
	// SetAngle moves to angle in degrees
	SetAngle(angle float64) error
	// Release stops holding position
	Release() error
	// Close releases the underlying pin. Safe to call more than once.
	Close() error
}

// SensorPort is a trigger input such as a PIR sensor or push button
type SensorPort interface {
	// WaitForPress blocks until the input asserts or ctx is done
	WaitForPress(ctx context.Context) error
	// IsPressed reports whether the input is currently asserted
	IsPressed() bool
	Close() error
}

// OutputPort is a digital output
type OutputPort interface {
	On() error
	Off() error
	Close() error
}

// Platform creates devices for one hardware backend
type Platform interface {
	Kind() Kind
	CreateServo(spec ServoSpec, opts ...ServoOption) (ServoPort, error)
	CreateButton(pin int, pullUp bool) (SensorPort, error)
	CreateOutput(pin int) (OutputPort, error)
	SystemInfo() SystemInfo
}

// ServoSpec describes a servo's pin and calibration
type ServoSpec struct {
	Pin      int
	MinAngle float64
	MaxAngle float64
	MinPulse time.Duration
	MaxPulse time.Duration
}

// PulseFor maps an angle to a pulse width. MinAngle always lands on MinPulse,
// so a spec with MinAngle > MaxAngle runs the servo backwards.
func (s ServoSpec) PulseFor(angle float64) time.Duration {
	span := s.MaxAngle - s.MinAngle
	if span == 0 {
		return s.MinPulse
	}

	frac := (angle - s.MinAngle) / span
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}

	return s.MinPulse + time.Duration(frac*float64(s.MaxPulse-s.MinPulse))
}

// AngleHandler receives servo commands in place of a built-in backend.
// released is true for Release calls, in which case angle is meaningless.
type AngleHandler func(angle float64, released bool)

// ServoOption customizes servo creation
type ServoOption func(*servoOptions)

type servoOptions struct {
	handler AngleHandler
}

// WithAngleHandler routes angle commands to fn instead of the platform servo
func WithAngleHandler(fn AngleHandler) ServoOption {
	return func(o *servoOptions) {
		o.handler = fn
	}
}

func collectServoOptions(opts []ServoOption) servoOptions {
	var o servoOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// handlerServo forwards to an AngleHandler
type handlerServo struct {
	fn     AngleHandler
	mu     sync.Mutex
	closed bool
}

func (h *handlerServo) SetAngle(angle float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.fn(angle, false)
	return nil
}

func (h *handlerServo) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.fn(0, true)
	return nil
}

func (h *handlerServo) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
