package device

import "fmt"

// Registry is the full device collection for one case: models in registration
// order plus the capability groups spanning them. Each simulation unit owns an
// independent Registry; nothing here is shared across units.
type Registry struct {
	order  []string
	models map[string]*Model
	groups map[string]*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*Model),
		groups: make(map[string]*Group),
	}
}

// Register adds a model, creating its group on first use. Registration order
// is preserved; together with per-model service declaration order it defines
// the constant-service resolution order.
func (r *Registry) Register(m *Model) error {
	if _, dup := r.models[m.name]; dup {
		return fmt.Errorf("model %s registered twice", m.name)
	}
	r.order = append(r.order, m.name)
	r.models[m.name] = m

	if m.groupName != "" {
		g, ok := r.groups[m.groupName]
		if !ok {
			g = NewGroup(m.groupName)
			r.groups[m.groupName] = g
		}
		g.AddMember(m)
	}
	return nil
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Group returns the named group.
func (r *Registry) Group(name string) (*Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Models returns all models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, len(r.order))
	for i, name := range r.order {
		out[i] = r.models[name]
	}
	return out
}

// DeviceCount returns the total device rows across all models.
func (r *Registry) DeviceCount() int {
	n := 0
	for _, m := range r.models {
		n += m.Count()
	}
	return n
}
