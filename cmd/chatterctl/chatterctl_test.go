package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joliva/XChatterPi/internal/audio"
	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/jaw"
)

func TestSweepAngles(t *testing.T) {
	assert.Equal(t, []float64{0, 30, 60, 90, 60, 30, 0}, sweepAngles(0, 90, 3))
}

func TestSweepDrivesServo(t *testing.T) {
	var got []float64
	servo := &recordingServo{}

	err := sweep(context.Background(), servo, []float64{0, 45, 90}, 2, time.Millisecond, func(a float64) {
		got = append(got, a)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 45, 90, 0, 45, 90}, servo.angles)
	assert.Equal(t, servo.angles, got)
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	servo := &recordingServo{}
	err := sweep(ctx, servo, []float64{0, 45, 90}, 1, time.Hour, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, servo.angles, 1)
}

func TestToneShape(t *testing.T) {
	samples := tone(1000, 0.5, time.Second, 8000, 2, true)
	require.Len(t, samples, 16000)

	// Channels carry the same signal
	for i := 0; i < len(samples); i += 2 {
		require.Equal(t, samples[i], samples[i+1])
	}

	// Second half-second is gated off
	for _, s := range samples[8000:] {
		require.Zero(t, s)
	}
	assert.NotZero(t, samples[2*2])
}

func TestAnalyzeTrack(t *testing.T) {
	// 4 loud buffers and 4 silent ones
	loud := tone(440, 0.5, 100*time.Millisecond, 8000, 1, false)
	samples := append(append([]int16{}, loud[:400]...), make([]int16, 400)...)
	track := &audio.Track{Samples: samples, SampleRate: 8000, Channels: 1}

	cfg := config.Default()
	res := analyzeTrack(track, 100, false, jaw.FromConfig(cfg))

	assert.Equal(t, 8, res.Buffers)
	assert.Zero(t, res.Min)
	assert.Greater(t, res.Max, 5000.0)
	assert.Equal(t, 4, res.Bands[jaw.Closed])
	assert.Greater(t, res.Threshold, 0)
	assert.LessOrEqual(t, res.Levels[0], res.Levels[1])
	assert.LessOrEqual(t, res.Levels[1], res.Levels[2])
}

func TestAnalyzeEmpty(t *testing.T) {
	track := &audio.Track{SampleRate: 8000, Channels: 1}
	res := analyzeTrack(track, 100, false, jaw.FromConfig(config.Default()))
	assert.Zero(t, res.Buffers)
}

func TestGenToneThenAnalyze(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "tone.wav")
	configPath = filepath.Join(dir, "missing.yaml")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"gen-tone", out, "--duration", "500ms", "--rate", "16000"})
	require.NoError(t, rootCmd.Execute())

	_, err := os.Stat(out)
	require.NoError(t, err)

	buf.Reset()
	rootCmd.SetArgs([]string{"analyze", out, "--config", configPath})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "suggested threshold")
	assert.Contains(t, buf.String(), "16000 Hz")
}

type recordingServo struct {
	angles []float64
}

func (r *recordingServo) SetAngle(angle float64) error {
	r.angles = append(r.angles, angle)
	return nil
}

func (r *recordingServo) Release() error { return nil }
func (r *recordingServo) Close() error   { return nil }

var _ hardware.ServoPort = (*recordingServo)(nil)
