// Package config holds the validated run configuration shared by the CLI,
// the orchestrator and the batch scheduler.
package config

import "errors"

// Version identifies the simulator release. The compiled-evaluator cache path
// is keyed on it so incompatible caches from older builds are never loaded.
const Version = "0.3.0"

// Routine names selectable from the command line. Power flow always runs;
// time domain and eigenvalue analysis are optional follow-ups.
const (
	RoutinePowerFlow  = "pflow"
	RoutineTimeDomain = "tds"
	RoutineEigen      = "eig"
)

// Config holds everything a run needs to know. One Config is shared read-only
// by all units of a batch; per-case paths live in system.Files.
type Config struct {
	Cases     []string // positional case patterns, glob expansion pending
	InputPath string   // prefix joined onto relative case patterns

	Routine  string // pflow, tds or eig
	DumpPath string // write a converted case here after setup, "" disables
	NoOutput bool   // suppress report/profile files
	ExitNow  bool   // stop after setup, before any solve
	Profile  bool   // collect and report phase timings
	Prepare  bool   // force regeneration of the compiled-evaluator cache
	Clean    bool   // remove generated outputs and exit

	NCPU int // batch worker count

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and returns it, or an error describing the
// first invalid field.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Routine {
	case RoutinePowerFlow, RoutineTimeDomain, RoutineEigen:
	case "":
		cfg.Routine = RoutinePowerFlow
	default:
		return nil, errors.New("routine must be one of 'pflow', 'tds' or 'eig'")
	}

	if cfg.NCPU < 1 {
		return nil, errors.New("ncpu must be at least 1")
	}

	return &cfg, nil
}
