// Package system implements the per-case orchestrator: it owns the device
// registry, the output manifest and the routine results, and drives the run
// lifecycle from preparation through parsing, structural setup and the
// numeric routines.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/willjschmitt/andes/internal/caseio"
	"github.com/willjschmitt/andes/internal/config"
	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
	"github.com/willjschmitt/andes/internal/prepare"
	"github.com/willjschmitt/andes/internal/profile"
	"github.com/willjschmitt/andes/internal/routine"
	"github.com/willjschmitt/andes/internal/service"
)

// ErrParse marks an unparsable or unreadable case. Informational: the unit
// is skipped, sibling units are unaffected.
var ErrParse = errors.New("case could not be parsed")

// ErrState marks a routine invoked out of lifecycle order.
var ErrState = errors.New("invalid lifecycle state")

// System is one independent simulation unit. Every unit owns its registry
// and services outright; batches share nothing mutable between units.
type System struct {
	cfg      *config.Config
	files    Files
	fs       afero.Fs
	logger   *slog.Logger
	reg      *device.Registry
	prof     profile.Profiler
	cacheDir string

	state    State
	manifest *prepare.Manifest

	pf  *routine.PFResult
	td  *routine.TDResult
	eig *routine.EigResult
}

// Option customizes a System at construction.
type Option func(*System)

// WithFs substitutes the filesystem used for case input, caches and reports.
func WithFs(fs afero.Fs) Option {
	return func(s *System) { s.fs = fs }
}

// WithLogger substitutes the unit's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) { s.logger = logger }
}

// WithRegistry substitutes the model library, for tests exercising custom
// models.
func WithRegistry(reg *device.Registry) Option {
	return func(s *System) { s.reg = reg }
}

// WithCacheDir relocates the compiled-evaluator cache.
func WithCacheDir(dir string) Option {
	return func(s *System) { s.cacheDir = dir }
}

// New creates a unit for one case file.
func New(cfg *config.Config, casePath string, opts ...Option) *System {
	s := &System{
		cfg:      cfg,
		files:    NewFiles(casePath, cfg.DumpPath, cfg.NoOutput),
		fs:       afero.NewOsFs(),
		logger:   slog.Default(),
		reg:      device.NewGridRegistry(),
		cacheDir: ".andes",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the unit's lifecycle state.
func (s *System) State() State { return s.state }

// Registry returns the unit's device registry.
func (s *System) Registry() *device.Registry { return s.reg }

// PowerFlowResult returns the power-flow outcome, nil before the solve.
func (s *System) PowerFlowResult() *routine.PFResult { return s.pf }

// TimeDomainResult returns the integration outcome, nil unless the tds
// routine ran.
func (s *System) TimeDomainResult() *routine.TDResult { return s.td }

// EigenResult returns the eigen analysis outcome, nil unless the eig routine
// ran.
func (s *System) EigenResult() *routine.EigResult { return s.eig }

// Prepare loads or regenerates the compiled-evaluator cache. Idempotent:
// once the unit is prepared, further calls without force are no-ops.
func (s *System) Prepare(ctx context.Context, force bool) error {
	if s.state >= Prepared && !force {
		return nil
	}
	defer s.prof.Track("prepare")()

	manifest, _, err := prepare.Prepare(ctx, s.fs, s.reg, s.cacheDir, force)
	if err != nil {
		return err
	}
	s.manifest = manifest
	if s.state < Prepared {
		s.state = Prepared
	}
	return nil
}

// Parse loads the case file into the registry. Returns false on unknown
// format or unparsable content; the cause is logged and the unit moves to
// Failed, leaving sibling units untouched.
func (s *System) Parse(ctx context.Context) bool {
	defer s.prof.Track("parse")()

	if ok := caseio.Parse(ctx, s.fs, s.files.Case, s.reg); !ok {
		s.state = Failed
		return false
	}
	s.state = Parsed
	return true
}

// Setup performs structural finalization after parsing: constant services
// resolve in declaration order within each model, models in registration
// order, then every external service links against its resolved target.
// Owners were bound at model declaration. A link failure is a structural
// configuration error and moves the unit to Failed.
func (s *System) Setup(ctx context.Context) error {
	// Re-running setup is allowed and harmless: constants resolve at most
	// once per run and links re-gather identical values.
	if s.state != Parsed && s.state != Setup {
		return fmt.Errorf("%w: setup requires a parsed case, unit is %s", ErrState, s.state)
	}
	defer s.prof.Track("setup")()
	logger := ctxlog.FromContext(ctx)

	for _, model := range s.reg.Models() {
		for _, svc := range model.Services() {
			var err error
			switch v := svc.(type) {
			case *service.Const:
				err = v.Resolve(ctx)
			case *service.Ext:
				err = s.link(ctx, v)
			}
			if err != nil {
				s.state = Failed
				return err
			}
		}
	}

	logger.Debug("Structural setup complete.", "devices", s.reg.DeviceCount())
	s.state = Setup
	return nil
}

// link resolves an external service's target by name and dispatches on the
// side of the union that is set.
func (s *System) link(ctx context.Context, ext *service.Ext) error {
	if group := ext.TargetGroup(); group != "" {
		target, ok := s.reg.Group(group)
		if !ok {
			return fmt.Errorf("service %s: %w: no group %q", ext.Names()[0], service.ErrLink, group)
		}
		return ext.LinkGroup(ctx, target)
	}
	model := ext.TargetModel()
	target, ok := s.reg.Model(model)
	if !ok {
		return fmt.Errorf("service %s: %w: no model %q", ext.Names()[0], service.ErrLink, model)
	}
	return ext.LinkModel(ctx, target)
}

// RunPowerFlow invokes the Newton-Raphson routine. Structural defects are
// errors; non-convergence is a status on the stored result and does not
// prevent later phases from running at the caller's discretion.
func (s *System) RunPowerFlow(ctx context.Context) error {
	if s.state != Setup {
		return fmt.Errorf("%w: power flow requires completed setup, unit is %s", ErrState, s.state)
	}
	defer s.prof.Track("powerflow")()

	pf, err := routine.PowerFlow(ctx, s.reg, routine.DefaultPFOptions())
	if err != nil {
		s.state = Failed
		return err
	}
	s.pf = pf
	s.state = PowerFlowSolved
	return nil
}

// RunTimeDomain integrates the dynamic models. Mutually exclusive with
// RunEigen; requires a power-flow result, converged or not.
func (s *System) RunTimeDomain(ctx context.Context) error {
	if s.state != PowerFlowSolved {
		return fmt.Errorf("%w: time domain requires a power-flow result, unit is %s", ErrState, s.state)
	}
	defer s.prof.Track("timedomain")()

	td, err := routine.TimeDomain(ctx, s.reg, s.pf, routine.DefaultTDOptions())
	if err != nil {
		return err
	}
	s.td = td
	s.state = TimeDomainSolved
	return nil
}

// RunEigen performs small-signal analysis. Mutually exclusive with
// RunTimeDomain; requires a power-flow result.
func (s *System) RunEigen(ctx context.Context) error {
	if s.state != PowerFlowSolved {
		return fmt.Errorf("%w: eigen analysis requires a power-flow result, unit is %s", ErrState, s.state)
	}
	defer s.prof.Track("eigen")()

	eig, err := routine.Eigen(ctx, s.reg, s.pf)
	if err != nil {
		return err
	}
	s.eig = eig
	s.state = EigenSolved
	return nil
}

// DumpIfRequested writes the parsed registry as an HCL case when a dump path
// was requested. No-op otherwise.
func (s *System) DumpIfRequested(ctx context.Context) error {
	if s.files.Dump == "" {
		return nil
	}
	defer s.prof.Track("dump")()

	if err := caseio.DumpHCL(s.fs, s.files.Dump, s.reg); err != nil {
		return fmt.Errorf("failed to dump case: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Case dumped.", "path", s.files.Dump)
	return nil
}

// Run drives the whole unit: prepare, parse, setup, optional dump, the
// requested routines, the report and the profile. Parse and link failures
// abort this unit only.
func (s *System) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, s.logger)
	if s.cfg.Profile {
		s.prof.Enable()
	}

	if err := s.Prepare(ctx, s.cfg.Prepare); err != nil {
		return err
	}
	if !s.Parse(ctx) {
		return fmt.Errorf("%w: %s", ErrParse, s.files.Case)
	}
	if err := s.Setup(ctx); err != nil {
		return err
	}
	if err := s.DumpIfRequested(ctx); err != nil {
		return err
	}
	if s.cfg.ExitNow {
		s.state = ExitEarly
		s.logger.Info("Exit before solve requested.", "case", s.files.Case)
		s.WriteProfile(ctx)
		return nil
	}

	if err := s.RunPowerFlow(ctx); err != nil {
		return err
	}
	switch s.cfg.Routine {
	case config.RoutineTimeDomain:
		if err := s.RunTimeDomain(ctx); err != nil {
			return err
		}
	case config.RoutineEigen:
		if err := s.RunEigen(ctx); err != nil {
			return err
		}
	}

	s.writeReport(ctx)
	s.state = Done
	s.WriteProfile(ctx)
	return nil
}
