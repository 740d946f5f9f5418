package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/tracks"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show platform, configuration and track library summary",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var infoJSON bool

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	detected := hardware.Detect()
	platform := hardware.New(detected, hardware.Options{Simulation: cfg.Hardware.Simulation}, newLogger())
	sys := platform.SystemInfo()
	library := tracks.Scan(cfg.Tracks.VocalDir, cfg.Tracks.AmbientDir)

	if infoJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"detected": detected.String(),
			"system":   sys,
			"vocals":   library.Vocals(),
			"ambients": library.Ambients(),
			"style":    cfg.Controller.Style,
			"source":   cfg.Audio.Source,
			"trigger":  cfg.Prop.Trigger,
		})
	}

	printf(cmd, "detected:  %s\n", detected)
	printf(cmd, "platform:  %s\n", sys.Platform)
	if sys.Model != "" {
		printf(cmd, "model:     %s\n", sys.Model)
	}
	printf(cmd, "os/arch:   %s/%s (%d cpus)\n", sys.OS, sys.Arch, sys.CPUs)
	if sys.CPUTemp > 0 {
		printf(cmd, "cpu temp:  %.1f C\n", sys.CPUTemp)
	}
	printf(cmd, "style:     %s\n", cfg.Controller.Style)
	printf(cmd, "source:    %s\n", cfg.Audio.Source)
	printf(cmd, "trigger:   %s (ambient=%v)\n", cfg.Prop.Trigger, cfg.Audio.Ambient)
	printf(cmd, "vocals:    %d in %s\n", len(library.Vocals()), cfg.Tracks.VocalDir)
	printf(cmd, "ambients:  %d in %s\n", len(library.Ambients()), cfg.Tracks.AmbientDir)
	return nil
}
