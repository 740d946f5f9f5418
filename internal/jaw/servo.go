package jaw

import (
	"time"

	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
)

// ServoSpec describes the jaw servo for a configuration snapshot
func ServoSpec(cfg *config.Config) hardware.ServoSpec {
	return hardware.ServoSpec{
		Pin:      cfg.Pins.JawPin,
		MinAngle: float64(cfg.Servo.MinAngle),
		MaxAngle: float64(cfg.Servo.MaxAngle),
		MinPulse: time.Duration(cfg.Servo.ServoMin) * time.Microsecond,
		MaxPulse: time.Duration(cfg.Servo.ServoMax) * time.Microsecond,
	}
}
