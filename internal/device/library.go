package device

import "github.com/willjschmitt/andes/internal/service"

// Group names used by the builtin model library.
const (
	GroupStaticGen  = "StaticGen"
	GroupStaticLoad = "StaticLoad"
	GroupSynGen     = "SynGen"
)

// NewGridRegistry builds a registry with the builtin grid model library
// registered: buses, branches, static loads and generators, and the classical
// synchronous generator. Case parsing populates the rows afterwards.
func NewGridRegistry() *Registry {
	r := NewRegistry()

	bus := NewModel("Bus", "")
	bus.AddNum(NewNumParam("Vn", "nominal voltage (kV)", 110, NonNegative()))
	bus.AddNum(NewNumParam("v0", "initial voltage magnitude (pu)", 1))
	bus.AddNum(NewNumParam("a0", "initial voltage angle (rad)", 0))
	r.Register(bus)

	line := NewModel("Line", "")
	line.AddIdx(NewIdxParam("bus1", "from-bus idx", "Bus"))
	line.AddIdx(NewIdxParam("bus2", "to-bus idx", "Bus"))
	line.AddNum(NewNumParam("r", "series resistance (pu)", 0.01, NonNegative()))
	line.AddNum(NewNumParam("x", "series reactance (pu)", 0.1))
	line.AddNum(NewNumParam("b", "total shunt susceptance (pu)", 0))
	r.Register(line)

	shunt := NewModel("Shunt", "")
	shunt.AddIdx(NewIdxParam("bus", "connection bus idx", "Bus"))
	shunt.AddNum(NewNumParam("g", "shunt conductance (pu)", 0))
	shunt.AddNum(NewNumParam("b", "shunt susceptance (pu)", 0))
	r.Register(shunt)

	pq := NewModel("PQ", GroupStaticLoad)
	pq.AddIdx(NewIdxParam("bus", "connection bus idx", "Bus"))
	pq.AddNum(NewNumParam("p", "active power demand (pu)", 0))
	pq.AddNum(NewNumParam("q", "reactive power demand (pu)", 0))
	r.Register(pq)

	pv := NewModel("PV", GroupStaticGen)
	pv.AddIdx(NewIdxParam("bus", "connection bus idx", "Bus"))
	pv.AddNum(NewNumParam("p", "scheduled active power (pu)", 0))
	pv.AddNum(NewNumParam("v", "voltage setpoint (pu)", 1, NonNegative()))
	r.Register(pv)

	slack := NewModel("Slack", GroupStaticGen)
	slack.AddIdx(NewIdxParam("bus", "connection bus idx", "Bus"))
	slack.AddNum(NewNumParam("v", "voltage setpoint (pu)", 1, NonNegative()))
	slack.AddNum(NewNumParam("a", "reference angle (rad)", 0))
	slack.AddNum(NewNumParam("p", "initial active power guess (pu)", 0))
	r.Register(slack)

	gencls := NewModel("GENCLS", GroupSynGen)
	genBus := gencls.AddIdx(NewIdxParam("bus", "interface bus idx", "Bus"))
	genIdx := gencls.AddIdx(NewIdxParam("gen", "static generator idx", GroupStaticGen))
	gencls.AddNum(NewNumParam("M", "inertia constant (s)", 6, NonNegative()))
	gencls.AddNum(NewNumParam("D", "damping coefficient", 0, NonNegative()))
	gencls.AddNum(NewNumParam("xdp", "transient reactance (pu)", 0.3, NonNegative()))

	// Initialization pulls the dispatch from the static generators and the
	// solved voltage guess from the bus; the swing equation reads 2M through
	// a derived constant.
	gencls.AddService(service.NewExtGroup("p0", "p", GroupStaticGen, genIdx))
	gencls.AddService(service.NewExtModel("vb0", "v0", "Bus", genBus))
	gencls.AddService(service.NewConst("M2", "2 * M"))
	r.Register(gencls)

	return r
}
