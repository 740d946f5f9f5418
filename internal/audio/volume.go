package audio

// Estimator reduces one buffer of interleaved PCM-16 samples to a loudness value.
// A filtered Estimator owns band-pass state and must not be shared between streams.
type Estimator struct {
	filter  *BandPass
	scratch []float64
}

// NewEstimator creates an estimator. With filtered set, samples pass through the
// voice band-pass designed for sampleRate before averaging.
func NewEstimator(filtered bool, sampleRate int) *Estimator {
	e := &Estimator{}
	if filtered {
		e.filter = NewBandPass(BandLow, BandHigh, sampleRate)
	}
	return e
}

// Filtered reports whether the estimator applies the band-pass
func (e *Estimator) Filtered() bool {
	return e.filter != nil
}

// Estimate returns the mean absolute amplitude of the buffer. Stereo buffers are
// measured on the right channel only. An empty buffer has loudness 0.
func (e *Estimator) Estimate(samples []int16, channels int) float64 {
	start, step := 0, 1
	if channels == 2 {
		start, step = 1, 2
	}

	n := 0
	if len(samples) > start {
		n = (len(samples) - start + step - 1) / step
	}
	if n == 0 {
		return 0
	}

	if e.filter == nil {
		var sum float64
		for i := start; i < len(samples); i += step {
			sum += absSample(samples[i])
		}
		return sum / float64(n)
	}

	if cap(e.scratch) < n {
		e.scratch = make([]float64, n)
	}
	buf := e.scratch[:n]
	for j, i := 0, start; i < len(samples); i, j = i+step, j+1 {
		buf[j] = absSample(samples[i])
	}
	e.filter.Process(buf, buf)

	var sum float64
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(n)
}

// Reset clears any filter history
func (e *Estimator) Reset() {
	if e.filter != nil {
		e.filter.Reset()
	}
}

func absSample(s int16) float64 {
	v := float64(s)
	if v < 0 {
		return -v
	}
	return v
}
