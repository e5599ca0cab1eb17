// Package service implements auxiliary (service) variables: derived,
// non-state quantities attached to a device model. A service is either a
// constant computed once during setup, a value gathered from another model or
// group at link time, or a stochastic value regenerated on every read.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/expr"
)

// ErrLink indicates that an external service could not be resolved against
// its target: the source attribute does not exist, or an index has no
// matching device row. Link errors are structural and abort the unit's setup.
var ErrLink = errors.New("external link resolution failed")

// Owner is the model instance a service belongs to. The owner outlives its
// services and manages their lifecycle; services hold it weakly and never
// control it.
type Owner interface {
	// Name is the model name, used in diagnostics.
	Name() string
	// Count is the number of device rows currently registered.
	Count() int
	// Namespace exposes the currently-resolved parameter and service values
	// by name, for expression evaluation.
	Namespace() map[string][]float64
}

// Indexer supplies the resolved external identifiers that select which rows
// of a link target to read. Device idx-parameters implement it.
type Indexer interface {
	Resolved() []string
}

// ModelTarget is the single-model side of the link union: homogeneous row
// storage addressed through idx-to-uid mapping.
type ModelTarget interface {
	Idx2UID(idxs []string) ([]int, error)
	Values(attr string) ([]float64, error)
}

// GroupTarget is the group side of the link union: a capability spanning
// multiple model types with a uniform gather accessor.
type GroupTarget interface {
	GetByIdx(src string, idxs []string) ([]float64, error)
}

// Service is the uniform read surface shared by all variants. Value is
// polymorphic: constants and external links return stored vectors, stochastic
// services compute on every read.
type Service interface {
	Names() []string
	Count() int
	Value() []float64
}

// Base carries the fields common to every service variant.
type Base struct {
	name  string
	owner Owner
}

// NewBase constructs an unbound base. Bind attaches the owner later; until
// then the service behaves as empty.
func NewBase(name string) Base {
	return Base{name: name}
}

// Bind attaches the owning model. Called by the model when the service is
// declared, before any device rows exist.
func (b *Base) Bind(owner Owner) {
	b.owner = owner
}

// Names returns the single service name wrapped in a slice, matching the
// multi-name accessor shape of parameter objects.
func (b *Base) Names() []string {
	return []string{b.name}
}

// Count reads through the owner. An unowned service has zero elements; this
// is deliberate so services can be declared before wiring completes.
func (b *Base) Count() int {
	if b.owner == nil {
		return 0
	}
	return b.owner.Count()
}

// ownerName is a diagnostics helper tolerant of unbound services.
func (b *Base) ownerName() string {
	if b.owner == nil {
		return "<unbound>"
	}
	return b.owner.Name()
}

// Const is a service variable that remains constant for the whole run. It is
// evaluated exactly once during setup, from either an expression over the
// owner's namespace or a user-supplied numeric callback. When both are
// present the callback wins.
type Const struct {
	Base

	exprSrc  string
	program  *expr.Program
	callback func(n int) []float64

	v        []float64
	resolved bool
}

// NewConst declares a constant service computed from the expression exprSrc.
func NewConst(name, exprSrc string) *Const {
	return &Const{Base: NewBase(name), exprSrc: exprSrc}
}

// NewConstFunc declares a constant service computed by a numeric callback.
// A callback supplied alongside an expression takes precedence over it.
func NewConstFunc(name string, fn func(n int) []float64) *Const {
	return &Const{Base: NewBase(name), callback: fn}
}

// Expression returns the declared expression source, or "" for
// callback-only services.
func (s *Const) Expression() string {
	return s.exprSrc
}

// SetProgram installs a pre-compiled evaluator, typically loaded from the
// prepare cache. Resolve compiles on demand when no program was installed.
func (s *Const) SetProgram(p *expr.Program) {
	s.program = p
}

// Resolve computes the value once. Callers must sequence it after the owner's
// parameters and after any service this one reads (declaration order within
// the model). Subsequent calls are no-ops, so re-running setup never changes
// an already-resolved constant.
func (s *Const) Resolve(ctx context.Context) error {
	if s.resolved {
		return nil
	}
	n := s.Count()
	if n == 0 {
		s.v = []float64{}
		s.resolved = true
		return nil
	}

	if s.callback != nil {
		s.v = s.callback(n)
		s.resolved = true
		ctxlog.FromContext(ctx).Debug("Constant service resolved via callback.",
			"model", s.ownerName(), "service", s.name, "n", n)
		return nil
	}

	if s.program == nil {
		program, err := expr.Compile(s.exprSrc)
		if err != nil {
			return fmt.Errorf("service %s.%s: %w", s.ownerName(), s.name, err)
		}
		s.program = program
	}

	v, err := s.program.EvalVector(s.owner.Namespace(), n)
	if err != nil {
		return fmt.Errorf("service %s.%s: %w", s.ownerName(), s.name, err)
	}
	s.v = v
	s.resolved = true
	return nil
}

// Value returns the resolved vector. Nil before Resolve runs.
func (s *Const) Value() []float64 {
	return s.v
}

// Ext is a service variable gathered from an attribute of an external model
// or group. Exactly one of the two targets is set, fixed at construction.
type Ext struct {
	Base

	src       string
	modelName string
	groupName string
	indexer   Indexer

	v      []float64
	linked bool
}

// NewExtModel declares an external service reading attribute src of the named
// single model, at the rows selected by indexer.
func NewExtModel(name, src, model string, indexer Indexer) *Ext {
	return &Ext{Base: NewBase(name), src: src, modelName: model, indexer: indexer}
}

// NewExtGroup declares an external service reading attribute src across the
// named group, at the rows selected by indexer.
func NewExtGroup(name, src, group string, indexer Indexer) *Ext {
	return &Ext{Base: NewBase(name), src: src, groupName: group, indexer: indexer}
}

// TargetModel returns the target model name, "" when the target is a group.
func (s *Ext) TargetModel() string { return s.modelName }

// TargetGroup returns the target group name, "" when the target is a model.
func (s *Ext) TargetGroup() string { return s.groupName }

// LinkModel gathers the value from a single model. The model path maps
// external identifiers to row positions and reads the attribute vector
// directly, since a single model has homogeneous storage.
func (s *Ext) LinkModel(ctx context.Context, target ModelTarget) error {
	s.v = make([]float64, s.Count())
	if s.Count() == 0 {
		s.linked = true
		return nil
	}

	uids, err := target.Idx2UID(s.indexer.Resolved())
	if err != nil {
		return fmt.Errorf("service %s.%s -> %s.%s: %w: %w",
			s.ownerName(), s.name, s.modelName, s.src, ErrLink, err)
	}
	all, err := target.Values(s.src)
	if err != nil {
		return fmt.Errorf("service %s.%s -> %s.%s: %w: %w",
			s.ownerName(), s.name, s.modelName, s.src, ErrLink, err)
	}
	for i, uid := range uids {
		s.v[i] = all[uid]
	}
	s.linked = true
	ctxlog.FromContext(ctx).Debug("External service linked to model.",
		"service", s.name, "target", s.modelName, "src", s.src, "n", s.Count())
	return nil
}

// LinkGroup gathers the value through the group's uniform accessor, which
// multiplexes heterogeneous member-model storage.
func (s *Ext) LinkGroup(ctx context.Context, target GroupTarget) error {
	s.v = make([]float64, s.Count())
	if s.Count() == 0 {
		s.linked = true
		return nil
	}

	v, err := target.GetByIdx(s.src, s.indexer.Resolved())
	if err != nil {
		return fmt.Errorf("service %s.%s -> %s.%s: %w: %w",
			s.ownerName(), s.name, s.groupName, s.src, ErrLink, err)
	}
	s.v = v
	s.linked = true
	ctxlog.FromContext(ctx).Debug("External service linked to group.",
		"service", s.name, "target", s.groupName, "src", s.src, "n", s.Count())
	return nil
}

// Linked reports whether a link pass completed for this service.
func (s *Ext) Linked() bool { return s.linked }

// Value returns the gathered vector. Nil before linking.
func (s *Ext) Value() []float64 {
	return s.v
}

// Rand is a service variable with no stored value: every read invokes the
// generator over Count elements. Callers needing a stable sample must cache
// it themselves.
type Rand struct {
	Base

	fn func(n int) []float64
}

// NewRand declares a stochastic service with the default uniform [0,1)
// generator.
func NewRand(name string) *Rand {
	return &Rand{Base: NewBase(name), fn: uniform}
}

// NewRandFunc declares a stochastic service with a custom generator.
func NewRandFunc(name string, fn func(n int) []float64) *Rand {
	return &Rand{Base: NewBase(name), fn: fn}
}

// Sample generates a fresh vector. Two successive calls are independent
// draws.
func (s *Rand) Sample() []float64 {
	return s.fn(s.Count())
}

// Value is an alias for Sample, satisfying the uniform Service read surface.
func (s *Rand) Value() []float64 {
	return s.Sample()
}

func uniform(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rand.Float64()
	}
	return v
}
