package device

// NumParam is a numeric parameter column: one float64 per device row, with a
// default applied when the case file omits the field.
type NumParam struct {
	name    string
	info    string
	def     float64
	v       []float64
	nonNeg  bool
	mandate bool
}

// NumOption tweaks a parameter declaration.
type NumOption func(*NumParam)

// NonNegative rejects negative case values for this parameter.
func NonNegative() NumOption {
	return func(p *NumParam) { p.nonNeg = true }
}

// Mandatory rejects device rows that omit this parameter.
func Mandatory() NumOption {
	return func(p *NumParam) { p.mandate = true }
}

// NewNumParam declares a numeric parameter.
func NewNumParam(name, info string, def float64, opts ...NumOption) *NumParam {
	p := &NumParam{name: name, info: info, def: def}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Names returns the single parameter name wrapped in a slice.
func (p *NumParam) Names() []string { return []string{p.name} }

// Values returns the per-row value vector.
func (p *NumParam) Values() []float64 { return p.v }

// IdxParam is an identifier parameter column: one external idx string per
// device row, referencing rows of another model or group. It doubles as the
// index selector for external services.
type IdxParam struct {
	name string
	info string
	// ref names the model or group this parameter points into. Informational;
	// link targets are resolved by the services that use the parameter.
	ref string
	v   []string
}

// NewIdxParam declares an identifier parameter referencing the named model
// or group.
func NewIdxParam(name, info, ref string) *IdxParam {
	return &IdxParam{name: name, info: info, ref: ref}
}

// Names returns the single parameter name wrapped in a slice.
func (p *IdxParam) Names() []string { return []string{p.name} }

// Ref returns the referenced model or group name.
func (p *IdxParam) Ref() string { return p.ref }

// Resolved returns the per-row identifier vector. Implements
// service.Indexer.
func (p *IdxParam) Resolved() []string { return p.v }
