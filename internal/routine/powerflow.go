// Package routine holds the numeric solver kernels that consume the device
// registry and resolved services: Newton-Raphson power flow, implicit
// time-domain integration, and small-signal eigenvalue analysis.
package routine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
)

// Bus type codes assigned while assembling the network.
const (
	busPQ = iota
	busPV
	busSlack
)

// PFOptions controls the Newton-Raphson iteration.
type PFOptions struct {
	Tol     float64
	MaxIter int
}

// DefaultPFOptions returns the stock tolerances.
func DefaultPFOptions() PFOptions {
	return PFOptions{Tol: 1e-8, MaxIter: 20}
}

// PFResult reports the outcome of a power-flow solve. Non-convergence is a
// status carried here, never an error: callers may still dump partial state.
type PFResult struct {
	Converged   bool
	Iterations  int
	MaxMismatch float64

	BusIdx []string
	V      []float64
	A      []float64
}

// network is the assembled bus-admittance view of a registry.
type network struct {
	nb      int
	busIdx  []string
	g, b    [][]float64
	psch    []float64
	qsch    []float64
	v, a    []float64
	busType []int
}

// assemble builds the admittance matrix and scheduled injections from the
// registry's Bus, Line, Shunt, PQ, PV and Slack rows.
func assemble(reg *device.Registry) (*network, error) {
	buses, ok := reg.Model("Bus")
	if !ok || buses.Count() == 0 {
		return nil, errors.New("power flow: no buses in system")
	}

	nb := buses.Count()
	nw := &network{
		nb:      nb,
		busIdx:  buses.Idx(),
		psch:    make([]float64, nb),
		qsch:    make([]float64, nb),
		busType: make([]int, nb),
	}
	nw.g = make([][]float64, nb)
	nw.b = make([][]float64, nb)
	for i := range nw.g {
		nw.g[i] = make([]float64, nb)
		nw.b[i] = make([]float64, nb)
	}
	v0, _ := buses.Values("v0")
	a0, _ := buses.Values("a0")
	nw.v = append([]float64{}, v0...)
	nw.a = append([]float64{}, a0...)

	busUID := func(model *device.Model, attr string) ([]int, error) {
		idxs, err := model.IdxValues(attr)
		if err != nil {
			return nil, err
		}
		return buses.Idx2UID(idxs)
	}

	if lines, ok := reg.Model("Line"); ok && lines.Count() > 0 {
		from, err := busUID(lines, "bus1")
		if err != nil {
			return nil, fmt.Errorf("power flow: %w", err)
		}
		to, err := busUID(lines, "bus2")
		if err != nil {
			return nil, fmt.Errorf("power flow: %w", err)
		}
		rv, _ := lines.Values("r")
		xv, _ := lines.Values("x")
		bv, _ := lines.Values("b")
		for k := 0; k < lines.Count(); k++ {
			den := rv[k]*rv[k] + xv[k]*xv[k]
			if den == 0 {
				return nil, fmt.Errorf("power flow: line %s has zero impedance", lines.Idx()[k])
			}
			gs, bs := rv[k]/den, -xv[k]/den
			i, j := from[k], to[k]
			nw.g[i][i] += gs
			nw.b[i][i] += bs + bv[k]/2
			nw.g[j][j] += gs
			nw.b[j][j] += bs + bv[k]/2
			nw.g[i][j] -= gs
			nw.b[i][j] -= bs
			nw.g[j][i] -= gs
			nw.b[j][i] -= bs
		}
	}

	if shunts, ok := reg.Model("Shunt"); ok && shunts.Count() > 0 {
		at, err := busUID(shunts, "bus")
		if err != nil {
			return nil, fmt.Errorf("power flow: %w", err)
		}
		gv, _ := shunts.Values("g")
		bv, _ := shunts.Values("b")
		for k := 0; k < shunts.Count(); k++ {
			nw.g[at[k]][at[k]] += gv[k]
			nw.b[at[k]][at[k]] += bv[k]
		}
	}

	if loads, ok := reg.Model("PQ"); ok && loads.Count() > 0 {
		at, err := busUID(loads, "bus")
		if err != nil {
			return nil, fmt.Errorf("power flow: %w", err)
		}
		pv, _ := loads.Values("p")
		qv, _ := loads.Values("q")
		for k := 0; k < loads.Count(); k++ {
			nw.psch[at[k]] -= pv[k]
			nw.qsch[at[k]] -= qv[k]
		}
	}

	if gens, ok := reg.Model("PV"); ok && gens.Count() > 0 {
		at, err := busUID(gens, "bus")
		if err != nil {
			return nil, fmt.Errorf("power flow: %w", err)
		}
		pv, _ := gens.Values("p")
		vv, _ := gens.Values("v")
		for k := 0; k < gens.Count(); k++ {
			nw.psch[at[k]] += pv[k]
			nw.v[at[k]] = vv[k]
			nw.busType[at[k]] = busPV
		}
	}

	slacks, ok := reg.Model("Slack")
	if !ok || slacks.Count() == 0 {
		return nil, errors.New("power flow: system has no slack bus")
	}
	at, err := busUID(slacks, "bus")
	if err != nil {
		return nil, fmt.Errorf("power flow: %w", err)
	}
	vv, _ := slacks.Values("v")
	av, _ := slacks.Values("a")
	for k := 0; k < slacks.Count(); k++ {
		nw.v[at[k]] = vv[k]
		nw.a[at[k]] = av[k]
		nw.busType[at[k]] = busSlack
	}

	return nw, nil
}

// injections computes the complex power injected at every bus for the current
// voltage solution.
func (nw *network) injections() (p, q []float64) {
	p = make([]float64, nw.nb)
	q = make([]float64, nw.nb)
	for i := 0; i < nw.nb; i++ {
		for k := 0; k < nw.nb; k++ {
			th := nw.a[i] - nw.a[k]
			c, s := math.Cos(th), math.Sin(th)
			p[i] += nw.v[i] * nw.v[k] * (nw.g[i][k]*c + nw.b[i][k]*s)
			q[i] += nw.v[i] * nw.v[k] * (nw.g[i][k]*s - nw.b[i][k]*c)
		}
	}
	return p, q
}

// PowerFlow runs a full Newton-Raphson solve over the assembled network and
// writes the solved voltages back into the Bus rows. Structural defects (no
// buses, missing slack, dangling branch idx) are errors; failure to converge
// is a reported status.
func PowerFlow(ctx context.Context, reg *device.Registry, opts PFOptions) (*PFResult, error) {
	logger := ctxlog.FromContext(ctx)

	nw, err := assemble(reg)
	if err != nil {
		return nil, err
	}

	// Unknown ordering: angles at every non-slack bus, then voltage
	// magnitudes at PQ buses.
	var aIdx, vIdx []int
	for i, t := range nw.busType {
		if t != busSlack {
			aIdx = append(aIdx, i)
		}
		if t == busPQ {
			vIdx = append(vIdx, i)
		}
	}
	na, nv := len(aIdx), len(vIdx)
	n := na + nv
	if n == 0 {
		// Degenerate single-slack case: already solved.
		res := nw.result(true, 0, 0)
		writeBack(reg, res)
		return res, nil
	}

	jac := mat.NewDense(n, n, nil)
	f := mat.NewVecDense(n, nil)
	dx := mat.NewVecDense(n, nil)

	var iter int
	maxMis := math.Inf(1)
	for iter = 0; iter < opts.MaxIter; iter++ {
		p, q := nw.injections()

		maxMis = 0
		for r, i := range aIdx {
			mis := nw.psch[i] - p[i]
			f.SetVec(r, mis)
			maxMis = math.Max(maxMis, math.Abs(mis))
		}
		for r, i := range vIdx {
			mis := nw.qsch[i] - q[i]
			f.SetVec(na+r, mis)
			maxMis = math.Max(maxMis, math.Abs(mis))
		}
		if maxMis < opts.Tol {
			break
		}

		nw.fillJacobian(jac, aIdx, vIdx, p, q)

		var lu mat.LU
		lu.Factorize(jac)
		if err := lu.SolveVecTo(dx, false, f); err != nil {
			logger.Warn("Power flow Jacobian is singular.", "iteration", iter)
			res := nw.result(false, iter, maxMis)
			return res, nil
		}

		for r, i := range aIdx {
			nw.a[i] += dx.AtVec(r)
		}
		for r, i := range vIdx {
			nw.v[i] += dx.AtVec(na + r)
		}
	}

	converged := maxMis < opts.Tol
	if converged {
		logger.Info("Power flow converged.", "iterations", iter, "mismatch", maxMis)
	} else {
		logger.Warn("Power flow did not converge.", "iterations", iter, "mismatch", maxMis)
	}

	res := nw.result(converged, iter, maxMis)
	writeBack(reg, res)
	return res, nil
}

// fillJacobian writes the standard polar power-flow Jacobian for the current
// operating point.
func (nw *network) fillJacobian(jac *mat.Dense, aIdx, vIdx []int, p, q []float64) {
	na := len(aIdx)
	for r, i := range aIdx {
		for c, j := range aIdx {
			if i == j {
				jac.Set(r, c, -q[i]-nw.b[i][i]*nw.v[i]*nw.v[i])
				continue
			}
			th := nw.a[i] - nw.a[j]
			jac.Set(r, c, nw.v[i]*nw.v[j]*(nw.g[i][j]*math.Sin(th)-nw.b[i][j]*math.Cos(th)))
		}
		for c, j := range vIdx {
			if i == j {
				jac.Set(r, na+c, p[i]/nw.v[i]+nw.g[i][i]*nw.v[i])
				continue
			}
			th := nw.a[i] - nw.a[j]
			jac.Set(r, na+c, nw.v[i]*(nw.g[i][j]*math.Cos(th)+nw.b[i][j]*math.Sin(th)))
		}
	}
	for r, i := range vIdx {
		for c, j := range aIdx {
			if i == j {
				jac.Set(na+r, c, p[i]-nw.g[i][i]*nw.v[i]*nw.v[i])
				continue
			}
			th := nw.a[i] - nw.a[j]
			jac.Set(na+r, c, -nw.v[i]*nw.v[j]*(nw.g[i][j]*math.Cos(th)+nw.b[i][j]*math.Sin(th)))
		}
		for c, j := range vIdx {
			if i == j {
				jac.Set(na+r, na+c, q[i]/nw.v[i]-nw.b[i][i]*nw.v[i])
				continue
			}
			th := nw.a[i] - nw.a[j]
			jac.Set(na+r, na+c, nw.v[i]*(nw.g[i][j]*math.Sin(th)-nw.b[i][j]*math.Cos(th)))
		}
	}
}

func (nw *network) result(converged bool, iter int, mis float64) *PFResult {
	return &PFResult{
		Converged:   converged,
		Iterations:  iter,
		MaxMismatch: mis,
		BusIdx:      nw.busIdx,
		V:           append([]float64{}, nw.v...),
		A:           append([]float64{}, nw.a...),
	}
}

// writeBack stores the solution in the Bus rows so later phases and dumps
// observe solved values.
func writeBack(reg *device.Registry, res *PFResult) {
	buses, _ := reg.Model("Bus")
	buses.SetValues("v0", append([]float64{}, res.V...))
	buses.SetValues("a0", append([]float64{}, res.A...))
}
