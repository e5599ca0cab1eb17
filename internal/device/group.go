package device

import "fmt"

// Group is a capability-based union over models sharing a role (for example
// every static generator type). It exposes a uniform gather accessor across
// heterogeneous member storage; row lookup goes idx -> owning model -> uid.
type Group struct {
	name    string
	members []*Model
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// AddMember registers a member model. Membership is fixed at registry
// construction; device rows arrive later during parsing.
func (g *Group) AddMember(m *Model) {
	g.members = append(g.members, m)
}

// Members returns the member models in registration order.
func (g *Group) Members() []*Model { return g.members }

// Count returns the total device rows across all members.
func (g *Group) Count() int {
	n := 0
	for _, m := range g.members {
		n += m.Count()
	}
	return n
}

// find locates the member model owning idx.
func (g *Group) find(idx string) (*Model, int, bool) {
	for _, m := range g.members {
		if uid, ok := m.uid[idx]; ok {
			return m, uid, true
		}
	}
	return nil, 0, false
}

// GetByIdx gathers attribute src across member models at the given external
// identifiers, returned in indexer order. Implements service.GroupTarget.
func (g *Group) GetByIdx(src string, idxs []string) ([]float64, error) {
	out := make([]float64, len(idxs))
	for i, idx := range idxs {
		m, uid, ok := g.find(idx)
		if !ok {
			return nil, fmt.Errorf("group %s: %w: %q", g.name, ErrUnknownIndex, idx)
		}
		vec, err := m.Values(src)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.name, err)
		}
		out[i] = vec[uid]
	}
	return out, nil
}
