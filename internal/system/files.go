package system

import (
	"path/filepath"
	"strings"
)

// Files is the per-case output manifest: every path a unit may write,
// derived once from the case path so concurrent units never collide.
type Files struct {
	Case     string
	Dump     string // converted-case dump target, "" disables
	Out      string // power-flow report
	Prof     string // profiling report
	NoOutput bool
}

// NewFiles derives the output manifest for a case.
func NewFiles(casePath, dumpPath string, noOutput bool) Files {
	base := strings.TrimSuffix(casePath, filepath.Ext(casePath))
	return Files{
		Case:     casePath,
		Dump:     dumpPath,
		Out:      base + "_out.txt",
		Prof:     base + "_prof.txt",
		NoOutput: noOutput,
	}
}
