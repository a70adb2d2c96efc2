// Package device resolves the "auto" accelerator preference against the
// hardware the process is actually running on.
package device

import (
	"os"
	"os/exec"
	"runtime"
)

// Probe reports which accelerators are available. The default probe checks
// the real host; tests substitute their own.
type Probe struct {
	lookPath func(string) (string, error)
	statFile func(string) (os.FileInfo, error)
	goos     string
}

func NewProbe() *Probe {
	return &Probe{
		lookPath: exec.LookPath,
		statFile: os.Stat,
		goos:     runtime.GOOS,
	}
}

// Resolve maps a configured device preference to a concrete device name.
// "auto" prefers cuda, then mps, then cpu; anything else passes through.
func (p *Probe) Resolve(preference string) string {
	if preference != "auto" {
		return preference
	}
	if p.hasCUDA() {
		return "cuda"
	}
	if p.hasMPS() {
		return "mps"
	}
	return "cpu"
}

func (p *Probe) hasCUDA() bool {
	if _, err := p.statFile("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	_, err := p.lookPath("nvidia-smi")
	return err == nil
}

// Metal Performance Shaders are only a thing on Apple hardware.
func (p *Probe) hasMPS() bool {
	return p.goos == "darwin"
}
