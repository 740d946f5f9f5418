package audio

import (
	"errors"
	"fmt"
)

// ErrNotStereo is returned by channel operations that only apply to two-channel audio
var ErrNotStereo = errors.New("operation requires exactly two channels")

// DuplicateLeft copies each left sample over the following right sample in place,
// so [L0,R0,L1,R1] becomes [L0,L0,L1,L1]
func DuplicateLeft(samples []int16, channels int) error {
	if channels != 2 {
		return fmt.Errorf("%w: got %d", ErrNotStereo, channels)
	}
	if len(samples)%2 != 0 {
		return fmt.Errorf("odd sample count %d in stereo buffer", len(samples))
	}

	for i := 0; i < len(samples); i += 2 {
		samples[i+1] = samples[i]
	}
	return nil
}
