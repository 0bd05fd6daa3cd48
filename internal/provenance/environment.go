package provenance

import (
	"os"
	"runtime"
)

// FrameworkVersion is recorded into every provenance node so archives name
// the exact core that produced them. Overridden at build time via -ldflags.
var FrameworkVersion = "dev"

// Environment is a snapshot of the runtime that executed an action. It is
// part of the node's hashed content: the same logical computation on a
// different machine is a different production record.
type Environment struct {
	Framework string `yaml:"framework"`
	Go        string `yaml:"go"`
	OS        string `yaml:"os"`
	Arch      string `yaml:"arch"`
	Hostname  string `yaml:"hostname,omitempty"`
}

// CaptureEnvironment snapshots the current runtime.
func CaptureEnvironment() Environment {
	host, _ := os.Hostname()
	return Environment{
		Framework: FrameworkVersion,
		Go:        runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  host,
	}
}
