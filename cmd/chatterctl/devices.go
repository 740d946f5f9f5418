package main

import (
	"github.com/spf13/cobra"

	"github.com/joliva/XChatterPi/internal/stream"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := stream.DefaultBackend(newLogger())
		ctx, err := backend.Acquire()
		if err != nil {
			return err
		}
		defer ctx.Release()

		devices, err := ctx.Devices()
		if err != nil {
			return err
		}

		printf(cmd, "backend: %s\n", backend.Name())
		for _, d := range devices {
			marker := " "
			if d.IsDefaultInput || d.IsDefaultOutput {
				marker = "*"
			}
			printf(cmd, "%s %-32s in=%d out=%d rate=%.0f\n",
				marker, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
