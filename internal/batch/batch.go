// Package batch schedules one simulation unit per case file with bounded
// concurrency. Units are fully independent: each owns its registry and
// services, and failures stay confined to the failing unit.
package batch

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/willjschmitt/andes/internal/config"
	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/system"
)

// Result records one unit's outcome.
type Result struct {
	Case   string
	UnitID string
	Err    error
}

// Runner executes a batch of cases on a fixed-size worker pool of NCPU
// workers, so at most NCPU units are in flight at any instant.
type Runner struct {
	outW io.Writer
	cfg  *config.Config
	fs   afero.Fs

	// runUnit executes one case; replaceable in tests to observe scheduling
	// without solving anything.
	runUnit func(ctx context.Context, casePath string, logger *slog.Logger) error

	mu      sync.Mutex
	results []Result
}

// NewRunner creates a batch runner for the given configuration.
func NewRunner(outW io.Writer, cfg *config.Config) *Runner {
	r := &Runner{outW: outW, cfg: cfg, fs: afero.NewOsFs()}
	r.runUnit = r.runSystem
	return r
}

// SetFs substitutes the filesystem, for tests.
func (r *Runner) SetFs(fs afero.Fs) { r.fs = fs }

// SetRunUnit substitutes the per-unit execution function, for tests.
func (r *Runner) SetRunUnit(fn func(ctx context.Context, casePath string, logger *slog.Logger) error) {
	r.runUnit = fn
}

// Results returns the per-unit outcomes of the last Run, in completion
// order.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result{}, r.results...)
}

// runSystem is the production unit body: build a System for the case and
// drive its full lifecycle.
func (r *Runner) runSystem(ctx context.Context, casePath string, logger *slog.Logger) error {
	sys := system.New(r.cfg, casePath,
		system.WithFs(r.fs),
		system.WithLogger(logger),
	)
	return sys.Run(ctx)
}

// Run resolves the case list and executes every unit. Per-unit failures are
// logged and aggregated into the results; they never abort sibling units and
// never surface as a process-level error.
func (r *Runner) Run(ctx context.Context) error {
	logger := newLogger(r.cfg.LogLevel, r.cfg.LogFormat, r.outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	t0 := time.Now()

	logger.Info("andes " + config.Version + " (Go " + strings.TrimPrefix(runtime.Version(), "go") + " on " + runtime.GOOS + ")")

	if r.cfg.Clean {
		r.clean(ctx)
		return nil
	}

	cases := ResolvePaths(ctx, r.fs, r.cfg.Cases, r.cfg.InputPath)
	if len(cases) == 0 {
		logger.Info("error: no input file. Try 'andes -h' for help.")
		return nil
	}

	if len(cases) == 1 {
		r.record(r.execute(ctx, cases[0], logger))
		logger.Info("Single process finished.", "elapsed", time.Since(t0).Round(time.Millisecond))
		return nil
	}

	// Console verbosity drops to warnings for the units so interleaved
	// output stays readable; the batch logger itself is unchanged.
	ncpu := r.cfg.NCPU
	if ncpu > len(cases) {
		ncpu = len(cases)
	}
	logger.Info("Processing jobs.", "cases", len(cases), "ncpu", ncpu)
	unitLogger := newLogger("warn", r.cfg.LogFormat, r.outW)

	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(ncpu)
	for w := 0; w < ncpu; w++ {
		go func() {
			defer wg.Done()
			for casePath := range jobs {
				if ctx.Err() != nil {
					r.record(Result{Case: casePath, Err: ctx.Err()})
					continue
				}
				r.record(r.execute(ctx, casePath, unitLogger))
			}
		}()
	}
	for _, casePath := range cases {
		jobs <- casePath
	}
	close(jobs)
	wg.Wait()

	var failures *multierror.Error
	for _, res := range r.Results() {
		if res.Err != nil {
			failures = multierror.Append(failures, res.Err)
		}
	}
	if err := failures.ErrorOrNil(); err != nil {
		logger.Warn("Some cases failed.", "failed", failures.Len(), "total", len(cases), "error", err)
	}
	logger.Info("Multiple processes finished.", "elapsed", time.Since(t0).Round(time.Millisecond))
	return nil
}

// execute runs one unit under its own id-tagged logger and confines any
// failure to the returned result.
func (r *Runner) execute(ctx context.Context, casePath string, logger *slog.Logger) Result {
	unitID := uuid.NewString()[:8]
	unitLogger := logger.With("unit", unitID, "case", casePath)
	unitLogger.Debug("Unit started.")

	err := r.runUnit(ctxlog.WithLogger(ctx, unitLogger), casePath, unitLogger)
	if err != nil {
		unitLogger.Error("Unit failed.", "error", err)
	} else {
		unitLogger.Debug("Unit finished.")
	}
	return Result{Case: casePath, UnitID: unitID, Err: err}
}

func (r *Runner) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Output suffixes eligible for --clean.
var cleanSuffixes = []string{"_out.txt", "_prof.txt", "_out.hcl"}

// clean removes generated output files from the working directory. Removal
// errors are logged per file and never abort the sweep.
func (r *Runner) clean(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	entries, err := afero.ReadDir(r.fs, ".")
	if err != nil {
		logger.Error("Unable to list working directory.", "error", err)
		return
	}

	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, suffix := range cleanSuffixes {
			if strings.HasSuffix(entry.Name(), suffix) {
				found = true
				if err := r.fs.Remove(entry.Name()); err != nil {
					logger.Error("Error removing file.", "file", entry.Name(), "error", err)
				} else {
					logger.Info("Removed.", "file", entry.Name())
				}
				break
			}
		}
	}
	if !found {
		logger.Info("No output found in the working directory.")
	}
}
