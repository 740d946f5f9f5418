package audio

import "math"

const (
	// BandLow and BandHigh bound the voice band kept by the filtered estimator
	BandLow  = 500.0
	BandHigh = 2500.0
)

// Q factors of the three second-order sections of a 6th-order Butterworth prototype
var butterworthQ6 = [3]float64{0.5176, 0.7071, 1.9319}

// biquad is a direct form I second-order section
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

func newLowPass(cutoff, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func newHighPass(cutoff, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// BandPass is a 6th-order Butterworth band-pass built from cascaded biquads.
// Coefficients are computed once; the delay lines carry across calls so each
// stream needs its own instance.
type BandPass struct {
	sections []biquad
}

// NewBandPass designs a filter passing low..high Hz at sampleRate. The upper
// edge is pulled below Nyquist for low sample rates.
func NewBandPass(low, high float64, sampleRate int) *BandPass {
	fs := float64(sampleRate)
	if nyquist := fs / 2; high >= nyquist*0.95 {
		high = nyquist * 0.95
	}
	if low >= high {
		low = high / 2
	}

	bp := &BandPass{sections: make([]biquad, 0, 2*len(butterworthQ6))}
	for _, q := range butterworthQ6 {
		bp.sections = append(bp.sections, newHighPass(low, fs, q))
	}
	for _, q := range butterworthQ6 {
		bp.sections = append(bp.sections, newLowPass(high, fs, q))
	}
	return bp
}

// Process filters in into out; both must have the same length
func (bp *BandPass) Process(in, out []float64) {
	for i, x := range in {
		for s := range bp.sections {
			x = bp.sections[s].process(x)
		}
		out[i] = x
	}
}

// Reset clears the filter history
func (bp *BandPass) Reset() {
	for s := range bp.sections {
		bp.sections[s].reset()
	}
}
