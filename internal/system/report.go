package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/willjschmitt/andes/internal/ctxlog"
)

// Profile entry limits mirror the two reporting modes: a truncated console
// summary when file output is suppressed, a full ranked report otherwise.
const (
	profConsoleLines = 40
	profFileLines    = 999
)

// writeReport emits the power-flow report file. Report I/O failures are
// logged, never fatal; partial results from a non-converged solve are still
// written so the case can be diagnosed.
func (s *System) writeReport(ctx context.Context) {
	if s.files.NoOutput || s.pf == nil {
		return
	}
	defer s.prof.Track("report")()
	logger := ctxlog.FromContext(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "andes %s power flow report\n", s.cfg.Routine)
	fmt.Fprintf(&b, "case: %s\n", s.files.Case)
	if s.pf.Converged {
		fmt.Fprintf(&b, "converged in %d iterations, max mismatch %.3e\n\n", s.pf.Iterations, s.pf.MaxMismatch)
	} else {
		fmt.Fprintf(&b, "DID NOT CONVERGE after %d iterations, max mismatch %.3e\n\n", s.pf.Iterations, s.pf.MaxMismatch)
	}

	fmt.Fprintf(&b, "%-16s %12s %12s\n", "bus", "V (pu)", "angle (rad)")
	for i, idx := range s.pf.BusIdx {
		fmt.Fprintf(&b, "%-16s %12.6f %12.6f\n", idx, s.pf.V[i], s.pf.A[i])
	}

	if err := afero.WriteFile(s.fs, s.files.Out, []byte(b.String()), 0o644); err != nil {
		logger.Error("Failed to write power flow report.", "path", s.files.Out, "error", err)
		return
	}
	logger.Info("Report written.", "path", s.files.Out)
}

// WriteProfile reports collected phase timings: a truncated ranked summary
// to the log when output is suppressed, otherwise a full ranked report to
// the case's profile file. A disabled profiler makes this a no-op.
func (s *System) WriteProfile(ctx context.Context) {
	if !s.prof.Enabled() {
		return
	}
	logger := ctxlog.FromContext(ctx)

	if s.files.NoOutput {
		logger.Info("Profile summary:\n" + s.prof.Report(profConsoleLines))
		return
	}
	if err := afero.WriteFile(s.fs, s.files.Prof, []byte(s.prof.Report(profFileLines)), 0o644); err != nil {
		logger.Error("Failed to write profile report.", "path", s.files.Prof, "error", err)
		return
	}
	logger.Info("Profile data written.", "path", s.files.Prof)
}
