package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joliva/XChatterPi/internal/audio"
	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/jaw"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.wav>",
	Short: "Measure track loudness and suggest controller thresholds",
	Long: `Splits the track into buffers of audio.buffer_size frames, estimates the
loudness of each buffer the way a live session does and prints statistics,
suggested thresholds and how often each jaw position would be used with the
current controller settings.

Examples:
  chatterctl analyze vocals/v01.wav
  chatterctl analyze vocals/v01.wav --filtered`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var analyzeFiltered bool

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeFiltered, "filtered", false, "Estimate loudness through the voice band-pass filter")
}

// analysis summarizes per-buffer loudness for one track
type analysis struct {
	Buffers   int
	Min       float64
	Max       float64
	Mean      float64
	Median    float64
	Threshold int
	Levels    [3]int
	Bands     map[jaw.Band]int
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	track, err := audio.LoadWAV(args[0])
	if err != nil {
		return err
	}

	filtered := analyzeFiltered || cfg.Controller.Style == config.StyleFilteredMultiLevel
	res := analyzeTrack(track, cfg.Audio.BufferSize, filtered, jaw.FromConfig(cfg))
	if res.Buffers == 0 {
		return fmt.Errorf("%s contains no audio", args[0])
	}

	printf(cmd, "%s: %d Hz, %d channel(s), %s, %d buffers\n",
		track.Name, track.SampleRate, track.Channels, track.Duration(), res.Buffers)
	printf(cmd, "loudness: min %.0f  max %.0f  mean %.0f  median %.0f (filtered=%v)\n",
		res.Min, res.Max, res.Mean, res.Median, filtered)
	printf(cmd, "suggested threshold: %d\n", res.Threshold)
	printf(cmd, "suggested levels: %d %d %d\n", res.Levels[0], res.Levels[1], res.Levels[2])
	printf(cmd, "jaw positions with style %s:\n", cfg.Controller.Style)
	for _, b := range []jaw.Band{jaw.Closed, jaw.OneThird, jaw.TwoThirds, jaw.Open} {
		n := res.Bands[b]
		printf(cmd, "  %-10s %6d  %5.1f%%\n", b, n, 100*float64(n)/float64(res.Buffers))
	}
	return nil
}

// analyzeTrack estimates every bufferSize-frame chunk of track. Suggested
// levels are the 25th, 50th and 75th percentiles of non-silent buffers.
func analyzeTrack(track *audio.Track, bufferSize int, filtered bool, mapper *jaw.Mapper) analysis {
	est := audio.NewEstimator(filtered, track.SampleRate)
	step := bufferSize * track.Channels

	res := analysis{Bands: make(map[jaw.Band]int)}
	var values []float64
	for start := 0; start < len(track.Samples); start += step {
		end := start + step
		if end > len(track.Samples) {
			end = len(track.Samples)
		}
		v := est.Estimate(track.Samples[start:end], track.Channels)
		values = append(values, v)
		res.Bands[mapper.Band(v)]++
	}

	res.Buffers = len(values)
	if res.Buffers == 0 {
		return res
	}

	res.Min = math.Inf(1)
	var sum float64
	var voiced []float64
	for _, v := range values {
		res.Min = math.Min(res.Min, v)
		res.Max = math.Max(res.Max, v)
		sum += v
		if v > 0 {
			voiced = append(voiced, v)
		}
	}
	res.Mean = sum / float64(res.Buffers)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	res.Median = percentile(sorted, 0.5)

	sort.Float64s(voiced)
	res.Threshold = int(percentile(voiced, 0.5))
	res.Levels = [3]int{
		int(percentile(voiced, 0.25)),
		int(percentile(voiced, 0.5)),
		int(percentile(voiced, 0.75)),
	}
	return res
}

// percentile expects sorted input
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(p * float64(len(sorted)-1)))
	return sorted[idx]
}
