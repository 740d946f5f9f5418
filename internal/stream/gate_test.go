package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateGate(t *testing.T) {
	g := NewRateGate(20 * time.Millisecond)
	base := time.Unix(0, 0)

	tests := []struct {
		offset time.Duration
		allow  bool
	}{
		{0, true},
		{5 * time.Millisecond, false},
		{19 * time.Millisecond, false},
		{20 * time.Millisecond, true},
		{39 * time.Millisecond, false},
		{45 * time.Millisecond, true},
		{64 * time.Millisecond, false},
		{65 * time.Millisecond, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allow, g.Allow(base.Add(tt.offset)), "at %v", tt.offset)
	}
}

func TestRateGateBound(t *testing.T) {
	g := NewRateGate(DefaultUpdateInterval)
	base := time.Unix(0, 0)

	allowed := 0
	for i := 0; i < 100; i++ {
		if g.Allow(base.Add(time.Duration(i) * 5 * time.Millisecond)) {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 25)
}
