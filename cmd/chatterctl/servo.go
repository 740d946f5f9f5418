package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/jaw"
)

var servoTestCmd = &cobra.Command{
	Use:   "servo-test",
	Short: "Sweep the jaw servo from min to max angle and back",
	Long: `Moves the jaw through its configured angle range so the servo limits and
linkage can be checked, then releases the servo.

Examples:
  chatterctl servo-test
  chatterctl servo-test --steps 20 --dwell 50ms --cycles 3`,
	Args: cobra.NoArgs,
	RunE: runServoTest,
}

var (
	servoSteps  int
	servoDwell  time.Duration
	servoCycles int
	servoSim    bool
)

func init() {
	rootCmd.AddCommand(servoTestCmd)
	servoTestCmd.Flags().IntVar(&servoSteps, "steps", 10, "Positions per half sweep")
	servoTestCmd.Flags().DurationVar(&servoDwell, "dwell", 100*time.Millisecond, "Time spent at each position")
	servoTestCmd.Flags().IntVar(&servoCycles, "cycles", 1, "Number of min-max-min sweeps")
	servoTestCmd.Flags().BoolVar(&servoSim, "simulate", false, "Use simulated hardware")
}

func runServoTest(cmd *cobra.Command, args []string) error {
	if servoSteps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", servoSteps)
	}
	if servoDwell <= 0 {
		return fmt.Errorf("dwell must be positive, got %s", servoDwell)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger := newLogger()
	platform := hardware.New(hardware.Detect(), hardware.Options{Simulation: servoSim || cfg.Hardware.Simulation}, logger)

	spec := jaw.ServoSpec(cfg)
	servo, err := platform.CreateServo(spec)
	if err != nil {
		return fmt.Errorf("create servo: %w", err)
	}

	report := func(angle float64) {
		printf(cmd, "angle %6.1f  pulse %s\n", angle, spec.PulseFor(angle))
	}
	err = sweep(ctx, servo, sweepAngles(spec.MinAngle, spec.MaxAngle, servoSteps), servoCycles, servoDwell, report)

	if relErr := servo.Release(); relErr != nil && err == nil {
		err = relErr
	}
	if closeErr := servo.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweepAngles returns min to max and back to min in steps increments per half
func sweepAngles(lo, hi float64, steps int) []float64 {
	angles := make([]float64, 0, 2*steps+1)
	delta := (hi - lo) / float64(steps)
	for i := 0; i <= steps; i++ {
		angles = append(angles, lo+delta*float64(i))
	}
	for i := steps - 1; i >= 0; i-- {
		angles = append(angles, lo+delta*float64(i))
	}
	return angles
}

func sweep(ctx context.Context, servo hardware.ServoPort, angles []float64, cycles int, dwell time.Duration, report func(float64)) error {
	ticker := time.NewTicker(dwell)
	defer ticker.Stop()

	for c := 0; c < cycles; c++ {
		for _, a := range angles {
			if err := servo.SetAngle(a); err != nil {
				return err
			}
			if report != nil {
				report(a)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}
