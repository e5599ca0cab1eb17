// Package cli translates command-line arguments into a validated
// config.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/willjschmitt/andes/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*config.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("andes", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
andes - power system simulator

Usage:
  andes [options] CASE [CASE...]

Arguments:
  CASE
    Path or glob pattern of case files (.hcl or .json).

Options:
`)
		flagSet.PrintDefaults()
	}

	routineFlag := flagSet.String("routine", config.RoutinePowerFlow,
		"Routine to run after power flow. Options: 'pflow', 'tds' or 'eig'.")
	rFlag := flagSet.String("r", "", "Routine to run (shorthand).")
	pathFlag := flagSet.String("path", "", "Path prefix for case files.")
	dumpFlag := flagSet.String("dump", "", "Dump the parsed case to this path after setup.")
	noOutputFlag := flagSet.Bool("no-output", false, "Force no output files of any kind.")
	exitFlag := flagSet.Bool("exit", false, "Exit before running any routine.")
	profileFlag := flagSet.Bool("profile", false, "Enable the phase profiler.")
	prepareFlag := flagSet.Bool("prepare", false, "Force regeneration of the compiled-evaluator cache.")
	cleanFlag := flagSet.Bool("clean", false, "Remove generated output files and exit.")
	ncpuFlag := flagSet.Int("ncpu", runtime.NumCPU(), "Number of concurrent workers for batch runs.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	routine := *routineFlag
	if *rFlag != "" {
		routine = *rFlag
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cases := flagSet.Args()
	if len(cases) == 0 && !*cleanFlag {
		slog.Debug("No case files provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	cfg, err := config.NewConfig(config.Config{
		Cases:     cases,
		InputPath: *pathFlag,
		Routine:   routine,
		DumpPath:  *dumpFlag,
		NoOutput:  *noOutputFlag,
		ExitNow:   *exitFlag,
		Profile:   *profileFlag,
		Prepare:   *prepareFlag,
		Clean:     *cleanFlag,
		NCPU:      *ncpuFlag,
		LogFormat: logFormat,
		LogLevel:  logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "routine", cfg.Routine, "cases", len(cfg.Cases))
	return cfg, false, nil
}
