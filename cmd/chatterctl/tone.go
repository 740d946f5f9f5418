package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joliva/XChatterPi/internal/audio"
)

var genToneCmd = &cobra.Command{
	Use:   "gen-tone <out.wav>",
	Short: "Write a sine test tone",
	Long: `Writes a 16-bit PCM sine tone. With --pulse the tone is switched on and
off every half second, which makes the jaw open and close in a steady rhythm.

Examples:
  chatterctl gen-tone test.wav
  chatterctl gen-tone test.wav --freq 1000 --duration 5s --channels 2 --pulse`,
	Args: cobra.ExactArgs(1),
	RunE: runGenTone,
}

var (
	toneFreq      float64
	toneDuration  time.Duration
	toneRate      int
	toneChannels  int
	toneAmplitude float64
	tonePulse     bool
)

func init() {
	rootCmd.AddCommand(genToneCmd)
	genToneCmd.Flags().Float64Var(&toneFreq, "freq", 440, "Frequency in Hz")
	genToneCmd.Flags().DurationVar(&toneDuration, "duration", 3*time.Second, "Length of the tone")
	genToneCmd.Flags().IntVar(&toneRate, "rate", 44100, "Sample rate in Hz")
	genToneCmd.Flags().IntVar(&toneChannels, "channels", 1, "Channel count (1 or 2)")
	genToneCmd.Flags().Float64Var(&toneAmplitude, "amplitude", 0.5, "Peak amplitude as a fraction of full scale")
	genToneCmd.Flags().BoolVar(&tonePulse, "pulse", false, "Gate the tone on and off every 500ms")
}

func runGenTone(cmd *cobra.Command, args []string) error {
	if toneAmplitude <= 0 || toneAmplitude > 1 {
		return fmt.Errorf("amplitude must be in (0, 1], got %g", toneAmplitude)
	}

	samples := tone(toneFreq, toneAmplitude, toneDuration, toneRate, toneChannels, tonePulse)
	data, err := audio.EncodeWAV(samples, toneRate, toneChannels)
	if err != nil {
		return err
	}

	if err := os.WriteFile(args[0], data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	printf(cmd, "wrote %s (%s, %d Hz, %d channel(s))\n", args[0], toneDuration, toneRate, toneChannels)
	return nil
}

// tone renders interleaved samples with every channel carrying the same signal
func tone(freq, amplitude float64, duration time.Duration, rate, channels int, pulse bool) []int16 {
	frames := int(duration.Seconds() * float64(rate))
	half := rate / 2
	samples := make([]int16, frames*channels)
	for i := 0; i < frames; i++ {
		var v int16
		if !pulse || (i/half)%2 == 0 {
			v = int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		}
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = v
		}
	}
	return samples
}
