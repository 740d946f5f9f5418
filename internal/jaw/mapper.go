// Package jaw converts loudness values into jaw servo angles.
package jaw

import (
	"fmt"

	"github.com/joliva/XChatterPi/internal/config"
)

// Band is the discrete jaw opening chosen for a loudness value
type Band int

const (
	Closed Band = iota
	OneThird
	TwoThirds
	Open
)

func (b Band) String() string {
	switch b {
	case Closed:
		return "closed"
	case OneThird:
		return "one-third"
	case TwoThirds:
		return "two-thirds"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// Mapper is a pure loudness to angle function for one configuration snapshot.
// Extents come from the unflipped angle range, so reversed servo wiring changes
// the direction of travel and never the range.
type Mapper struct {
	style     config.Style
	threshold float64
	levels    [3]float64
	closed    float64
	step      float64
}

// NewMapper builds a mapper from the servo and controller sections
func NewMapper(servo config.ServoConfig, ctrl config.ControllerConfig) *Mapper {
	lo, hi := float64(servo.MinAngle), float64(servo.MaxAngle)
	if lo > hi {
		lo, hi = hi, lo
	}

	m := &Mapper{
		style:     ctrl.Style,
		threshold: float64(ctrl.Threshold),
		closed:    lo,
		step:      (hi - lo) / 3,
	}

	if ctrl.Style == config.StyleFilteredMultiLevel {
		m.levels = [3]float64{float64(ctrl.FilteredLevel1), float64(ctrl.FilteredLevel2), float64(ctrl.FilteredLevel3)}
	} else {
		m.levels = [3]float64{float64(ctrl.Level1), float64(ctrl.Level2), float64(ctrl.Level3)}
	}

	return m
}

// FromConfig builds a mapper from a full configuration snapshot
func FromConfig(cfg *config.Config) *Mapper {
	return NewMapper(cfg.Servo, cfg.Controller)
}

// Band classifies loudness. Equality with a threshold stays in the lower band.
func (m *Mapper) Band(loudness float64) Band {
	if m.style == config.StyleThreshold {
		if loudness > m.threshold {
			return Open
		}
		return Closed
	}

	switch {
	case loudness > m.levels[2]:
		return Open
	case loudness > m.levels[1]:
		return TwoThirds
	case loudness > m.levels[0]:
		return OneThird
	default:
		return Closed
	}
}

// Map returns the target angle for loudness
func (m *Mapper) Map(loudness float64) float64 {
	return m.AngleFor(m.Band(loudness))
}

// AngleFor returns the angle of a band
func (m *Mapper) AngleFor(b Band) float64 {
	return m.closed + float64(b)*m.step
}

// Filtered reports whether the style expects band-passed loudness
func (m *Mapper) Filtered() bool {
	return m.style == config.StyleFilteredMultiLevel
}
