package routine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
)

// System frequency base for the swing equation, rad/s at 60 Hz.
const omegaBase = 2 * math.Pi * 60

// TDOptions controls the implicit time-domain integration.
type TDOptions struct {
	TF      float64 // end time, seconds
	Step    float64 // fixed step, seconds
	Tol     float64 // per-step Newton tolerance
	MaxIter int     // per-step Newton iterations
}

// DefaultTDOptions returns the stock integration settings.
func DefaultTDOptions() TDOptions {
	return TDOptions{TF: 10, Step: 0.05, Tol: 1e-10, MaxIter: 15}
}

// TDResult holds the integrated trajectories of every classical machine.
type TDResult struct {
	Completed bool
	GenIdx    []string
	T         []float64
	Delta     [][]float64 // [step][machine]
	Omega     [][]float64
}

// machine is one classical generator with its operating point frozen at the
// power-flow solution: constant EMF behind transient reactance against a
// fixed terminal voltage.
type machine struct {
	idx     string
	e       float64 // internal EMF magnitude
	vt      float64 // terminal voltage magnitude
	theta   float64 // terminal voltage angle
	xdp     float64
	m2      float64 // 2M, from the derived constant service
	d       float64
	pm      float64 // mechanical power, from the linked p0 service
	delta0  float64
}

// initMachines builds the classical-machine set from GENCLS rows, its linked
// and derived services, and the power-flow voltage solution.
func initMachines(reg *device.Registry, pf *PFResult) ([]machine, error) {
	gens, ok := reg.Model("GENCLS")
	if !ok || gens.Count() == 0 {
		return nil, errors.New("time domain: no GENCLS machines in system")
	}

	buses, _ := reg.Model("Bus")
	busIdx, err := gens.IdxValues("bus")
	if err != nil {
		return nil, err
	}
	at, err := buses.Idx2UID(busIdx)
	if err != nil {
		return nil, fmt.Errorf("time domain: %w", err)
	}

	xdp, _ := gens.Values("xdp")
	dmp, _ := gens.Values("D")
	m2, err := gens.Values("M2")
	if err != nil {
		return nil, fmt.Errorf("time domain: %w", err)
	}
	pm, err := gens.Values("p0")
	if err != nil {
		return nil, fmt.Errorf("time domain: %w", err)
	}

	machines := make([]machine, gens.Count())
	for k := range machines {
		vt := pf.V[at[k]]
		th := pf.A[at[k]]
		// E = Vt + jx'd I with I from the dispatched injection at unity
		// power factor; classical initialization.
		vterm := cmplx.Rect(vt, th)
		current := cmplx.Conj(complex(pm[k], 0) / vterm)
		emf := vterm + complex(0, xdp[k])*current
		machines[k] = machine{
			idx:    gens.Idx()[k],
			e:      cmplx.Abs(emf),
			vt:     vt,
			theta:  th,
			xdp:    xdp[k],
			m2:     m2[k],
			d:      dmp[k],
			pm:     pm[k],
			delta0: cmplx.Phase(emf),
		}
	}
	return machines, nil
}

// deriv evaluates the swing equation right-hand side for one machine.
func (mc *machine) deriv(delta, omega float64) (dDelta, dOmega float64) {
	pe := mc.e * mc.vt * math.Sin(delta-mc.theta) / mc.xdp
	dDelta = omegaBase * (omega - 1)
	dOmega = 2 * (mc.pm - pe - mc.d*(omega-1)) / mc.m2
	return dDelta, dOmega
}

// TimeDomain integrates the classical swing equations with the implicit
// trapezoidal rule, one Newton solve per machine per step. It requires a
// completed power-flow result; a non-converged power flow is accepted with
// degraded-result semantics at the caller's discretion.
func TimeDomain(ctx context.Context, reg *device.Registry, pf *PFResult, opts TDOptions) (*TDResult, error) {
	logger := ctxlog.FromContext(ctx)

	machines, err := initMachines(reg, pf)
	if err != nil {
		return nil, err
	}

	nsteps := int(opts.TF/opts.Step) + 1
	res := &TDResult{
		GenIdx: make([]string, len(machines)),
		T:      make([]float64, 0, nsteps),
		Delta:  make([][]float64, 0, nsteps),
		Omega:  make([][]float64, 0, nsteps),
	}
	for k, mc := range machines {
		res.GenIdx[k] = mc.idx
	}

	delta := make([]float64, len(machines))
	omega := make([]float64, len(machines))
	for k, mc := range machines {
		delta[k] = mc.delta0
		omega[k] = 1
	}
	record := func(t float64) {
		res.T = append(res.T, t)
		res.Delta = append(res.Delta, append([]float64{}, delta...))
		res.Omega = append(res.Omega, append([]float64{}, omega...))
	}
	record(0)

	h := opts.Step
	jac := mat.NewDense(2, 2, nil)
	rhs := mat.NewVecDense(2, nil)
	dx := mat.NewVecDense(2, nil)

	for t := h; t <= opts.TF+1e-12; t += h {
		for k := range machines {
			mc := &machines[k]
			fd0, fo0 := mc.deriv(delta[k], omega[k])
			dn, on := delta[k], omega[k]

			converged := false
			for it := 0; it < opts.MaxIter; it++ {
				fd1, fo1 := mc.deriv(dn, on)
				g1 := dn - delta[k] - h/2*(fd0+fd1)
				g2 := on - omega[k] - h/2*(fo0+fo1)
				if math.Abs(g1) < opts.Tol && math.Abs(g2) < opts.Tol {
					converged = true
					break
				}

				// dg/dx = I - h/2 * df/dx at the new point.
				ks := mc.e * mc.vt * math.Cos(dn-mc.theta) / mc.xdp
				jac.Set(0, 0, 1)
				jac.Set(0, 1, -h/2*omegaBase)
				jac.Set(1, 0, -h/2*(-2*ks/mc.m2))
				jac.Set(1, 1, 1-h/2*(-2*mc.d/mc.m2))
				rhs.SetVec(0, -g1)
				rhs.SetVec(1, -g2)

				var lu mat.LU
				lu.Factorize(jac)
				if err := lu.SolveVecTo(dx, false, rhs); err != nil {
					logger.Warn("Time-domain step Jacobian singular.", "t", t, "machine", mc.idx)
					res.Completed = false
					return res, nil
				}
				dn += dx.AtVec(0)
				on += dx.AtVec(1)
			}
			if !converged {
				logger.Warn("Time-domain step failed to converge.", "t", t, "machine", mc.idx)
				res.Completed = false
				return res, nil
			}
			delta[k], omega[k] = dn, on
		}
		record(t)
	}

	res.Completed = true
	logger.Info("Time-domain simulation finished.", "steps", len(res.T)-1, "tf", opts.TF)
	return res, nil
}
