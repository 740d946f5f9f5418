package audio

import (
	"math"
	"testing"
)

func TestEstimateUnfiltered(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		channels int
		expected float64
	}{
		{"empty mono", nil, 1, 0},
		{"empty stereo", []int16{}, 2, 0},
		{"mono mean abs", []int16{100, -100, 300, -300}, 1, 200},
		{"stereo uses right channel", []int16{30000, 10, -30000, -30}, 2, 20},
		{"stereo single left sample", []int16{5000}, 2, 0},
		{"silence", make([]int16, 512), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(false, 48000)
			got := e.Estimate(tt.samples, tt.channels)
			if got != tt.expected {
				t.Errorf("Expected loudness %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEstimateFilteredAttenuatesOutOfBand(t *testing.T) {
	const sampleRate = 48000

	loudness := func(freq float64) float64 {
		e := NewEstimator(true, sampleRate)
		samples := sine(sampleRate/2, sampleRate, freq, 10000)
		var last float64
		// Let the filter settle before measuring
		for off := 0; off+1024 <= len(samples); off += 1024 {
			last = e.Estimate(samples[off:off+1024], 1)
		}
		return last
	}

	in := loudness(1200)
	low := loudness(60)
	high := loudness(12000)

	if in <= 0 {
		t.Fatalf("Expected in-band loudness to be positive, got %v", in)
	}
	if low >= in {
		t.Errorf("Expected 60Hz (%v) to be quieter than 1200Hz (%v)", low, in)
	}
	if high >= in {
		t.Errorf("Expected 12kHz (%v) to be quieter than 1200Hz (%v)", high, in)
	}
}

func TestEstimateFilteredIsFinite(t *testing.T) {
	// At 4 kHz the upper band edge sits above Nyquist and gets clamped
	e := NewEstimator(true, 4000)
	samples := sine(4096, 4000, 1000, 32000)
	for off := 0; off < len(samples); off += 256 {
		v := e.Estimate(samples[off:off+256], 1)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Fatalf("Expected finite non-negative loudness, got %v", v)
		}
	}

	if got := e.Estimate(nil, 1); got != 0 {
		t.Errorf("Expected empty filtered buffer to be 0, got %v", got)
	}
}

func TestDuplicateLeft(t *testing.T) {
	buf := []int16{1, 2, 3, 4}
	if err := DuplicateLeft(buf, 2); err != nil {
		t.Fatalf("DuplicateLeft failed: %v", err)
	}

	expected := []int16{1, 1, 3, 3}
	if len(buf) != len(expected) {
		t.Fatalf("Expected length %d, got %d", len(expected), len(buf))
	}
	for i := range expected {
		if buf[i] != expected[i] {
			t.Errorf("Index %d: expected %d, got %d", i, expected[i], buf[i])
		}
	}

	mono := []int16{1, 2, 3, 4}
	if err := DuplicateLeft(mono, 1); err == nil {
		t.Error("Expected error for mono buffer")
	}
	if mono[1] != 2 {
		t.Error("Mono buffer must not be modified on error")
	}
}
