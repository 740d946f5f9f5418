package hardware

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

const thermalZone = "/sys/class/thermal/thermal_zone0/temp"

// SystemInfo describes the host the prop runs on
type SystemInfo struct {
	Platform string  `json:"platform"`
	Model    string  `json:"model,omitempty"`
	OS       string  `json:"os"`
	Arch     string  `json:"arch"`
	CPUs     int     `json:"cpus"`
	Hostname string  `json:"hostname,omitempty"`
	CPUTemp  float64 `json:"cpu_temp_celsius,omitempty"`
}

func collectSystemInfo(kind Kind) SystemInfo {
	info := SystemInfo{
		Platform: kind.String(),
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
	}

	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}

	if model, err := os.ReadFile(deviceTreeModel); err == nil {
		info.Model = strings.TrimRight(string(model), "\x00\n")
	}

	if raw, err := os.ReadFile(thermalZone); err == nil {
		if milli, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			info.CPUTemp = float64(milli) / 1000
		}
	}

	return info
}
