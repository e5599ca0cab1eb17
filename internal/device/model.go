// Package device implements the model/group registry: name-addressable
// collections of device-type instances with uniform row accessors, the layer
// the service package links against and the numeric routines read from.
package device

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/willjschmitt/andes/internal/service"
)

// ErrUnknownIndex indicates an external identifier with no matching device
// row.
var ErrUnknownIndex = errors.New("unknown device index")

// Model is a device-type definition with homogeneous columnar storage: every
// parameter and service holds one value per device row. Rows are addressed
// externally by idx strings and internally by uid positions.
type Model struct {
	name      string
	groupName string

	idx []string
	uid map[string]int

	numOrder []string
	nums     map[string]*NumParam
	idxOrder []string
	idxps    map[string]*IdxParam

	// services in declaration order; constant-service resolution depends on
	// this order, a service must not read one declared after it.
	svcOrder []string
	svcs     map[string]service.Service
}

// NewModel creates an empty model definition belonging to the named group
// ("" for ungrouped models).
func NewModel(name, groupName string) *Model {
	return &Model{
		name:      name,
		groupName: groupName,
		uid:       make(map[string]int),
		nums:      make(map[string]*NumParam),
		idxps:     make(map[string]*IdxParam),
		svcs:      make(map[string]service.Service),
	}
}

// Name returns the model name. Implements service.Owner.
func (m *Model) Name() string { return m.name }

// GroupName returns the capability group this model belongs to.
func (m *Model) GroupName() string { return m.groupName }

// Count returns the number of device rows. Implements service.Owner.
func (m *Model) Count() int { return len(m.idx) }

// AddNum declares a numeric parameter column.
func (m *Model) AddNum(p *NumParam) *NumParam {
	m.numOrder = append(m.numOrder, p.name)
	m.nums[p.name] = p
	return p
}

// AddIdx declares an identifier parameter column.
func (m *Model) AddIdx(p *IdxParam) *IdxParam {
	m.idxOrder = append(m.idxOrder, p.name)
	m.idxps[p.name] = p
	return p
}

// AddService declares a service variable and binds it to this model. Order of
// declaration is preserved and drives constant resolution order.
func (m *Model) AddService(svc service.Service) service.Service {
	name := svc.Names()[0]
	if binder, ok := svc.(interface{ Bind(service.Owner) }); ok {
		binder.Bind(m)
	}
	m.svcOrder = append(m.svcOrder, name)
	m.svcs[name] = svc
	return svc
}

// AddDevice appends one device row from parsed case fields. Unknown fields
// are rejected; missing numeric fields take the declared default. A missing
// "idx" field mints one.
func (m *Model) AddDevice(fields map[string]any) (string, error) {
	idx := ""
	for name, raw := range fields {
		if name == "idx" {
			s, ok := raw.(string)
			if !ok {
				return "", fmt.Errorf("model %s: idx must be a string, got %T", m.name, raw)
			}
			idx = s
			continue
		}
		if p, ok := m.nums[name]; ok {
			f, ok := toFloat(raw)
			if !ok {
				return "", fmt.Errorf("model %s: parameter %s must be numeric, got %T", m.name, name, raw)
			}
			if p.nonNeg && f < 0 {
				return "", fmt.Errorf("model %s: parameter %s must be non-negative, got %v", m.name, name, f)
			}
			continue
		}
		if _, ok := m.idxps[name]; ok {
			if _, ok := raw.(string); !ok {
				return "", fmt.Errorf("model %s: parameter %s must be an idx string, got %T", m.name, name, raw)
			}
			continue
		}
		return "", fmt.Errorf("model %s has no parameter %q", m.name, name)
	}

	if idx == "" {
		idx = m.name + "_" + uuid.NewString()[:8]
	}
	if _, dup := m.uid[idx]; dup {
		return "", fmt.Errorf("model %s: duplicate idx %q", m.name, idx)
	}

	for _, name := range m.numOrder {
		p := m.nums[name]
		if raw, ok := fields[name]; ok {
			f, _ := toFloat(raw)
			p.v = append(p.v, f)
		} else {
			if p.mandate {
				return "", fmt.Errorf("model %s: parameter %s is mandatory", m.name, name)
			}
			p.v = append(p.v, p.def)
		}
	}
	for _, name := range m.idxOrder {
		p := m.idxps[name]
		if raw, ok := fields[name]; ok {
			p.v = append(p.v, raw.(string))
		} else {
			p.v = append(p.v, "")
		}
	}

	m.uid[idx] = len(m.idx)
	m.idx = append(m.idx, idx)
	return idx, nil
}

// Idx returns the external identifiers in row order.
func (m *Model) Idx() []string { return m.idx }

// Idx2UID maps external identifiers to internal row positions. Implements
// service.ModelTarget.
func (m *Model) Idx2UID(idxs []string) ([]int, error) {
	uids := make([]int, len(idxs))
	for i, idx := range idxs {
		uid, ok := m.uid[idx]
		if !ok {
			return nil, fmt.Errorf("model %s: %w: %q", m.name, ErrUnknownIndex, idx)
		}
		uids[i] = uid
	}
	return uids, nil
}

// Values returns the value vector of the named numeric parameter or service.
// Implements service.ModelTarget.
func (m *Model) Values(attr string) ([]float64, error) {
	if p, ok := m.nums[attr]; ok {
		return p.v, nil
	}
	if svc, ok := m.svcs[attr]; ok {
		return svc.Value(), nil
	}
	return nil, fmt.Errorf("model %s has no attribute %q", m.name, attr)
}

// SetValues replaces the value vector of the named numeric parameter.
// Solver routines use it to write results back into the registry so dumps
// and reports see solved values.
func (m *Model) SetValues(attr string, v []float64) error {
	p, ok := m.nums[attr]
	if !ok {
		return fmt.Errorf("model %s has no numeric parameter %q", m.name, attr)
	}
	if len(v) != m.Count() {
		return fmt.Errorf("model %s: attribute %s: got %d values for %d devices", m.name, attr, len(v), m.Count())
	}
	p.v = v
	return nil
}

// IdxValues returns the value vector of the named idx parameter.
func (m *Model) IdxValues(attr string) ([]string, error) {
	if p, ok := m.idxps[attr]; ok {
		return p.v, nil
	}
	return nil, fmt.Errorf("model %s has no idx parameter %q", m.name, attr)
}

// IdxParam returns the named idx parameter for use as a link index selector.
func (m *Model) IdxParam(name string) (*IdxParam, bool) {
	p, ok := m.idxps[name]
	return p, ok
}

// Services returns the service variables in declaration order.
func (m *Model) Services() []service.Service {
	out := make([]service.Service, len(m.svcOrder))
	for i, name := range m.svcOrder {
		out[i] = m.svcs[name]
	}
	return out
}

// Namespace exposes parameters and already-available service values by name
// for expression evaluation. Implements service.Owner. Services that have
// not resolved yet are absent, so an expression reading a later-declared
// service fails loudly instead of seeing stale zeros.
func (m *Model) Namespace() map[string][]float64 {
	ns := make(map[string][]float64, len(m.numOrder)+len(m.svcOrder))
	for _, name := range m.numOrder {
		ns[name] = m.nums[name].v
	}
	for _, name := range m.svcOrder {
		if v := m.svcs[name].Value(); v != nil {
			ns[name] = v
		}
	}
	return ns
}

// NumParams returns the declared numeric parameter names in order.
func (m *Model) NumParams() []string { return m.numOrder }

// IdxParams returns the declared idx parameter names in order.
func (m *Model) IdxParams() []string { return m.idxOrder }

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
