package main

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"

	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
)

// maximizer maximizes the sum of the likelihoods of the joint
// gradients over their parameters using the analytic gradients.
type maximizer struct {
	gradients  []*hmc.JointGradient
	likelihood *inference.CompoundLikelihood
	dimension  int
	calls      int
	grad       []float64
}

func newMaximizer(gradients []*hmc.JointGradient) *maximizer {
	var set []inference.Likelihood
	dim := 0
	for _, j := range gradients {
		for _, l := range j.Likelihood().LikelihoodSet() {
			set = inference.AppendUnique(set, l)
		}
		dim += j.Dimension()
	}
	return &maximizer{
		gradients:  gradients,
		likelihood: inference.NewCompoundLikelihood(set),
		dimension:  dim,
	}
}

// values returns all the parameter values concatenated.
func (m *maximizer) values() []float64 {
	x := make([]float64, 0, m.dimension)
	for _, j := range m.gradients {
		x = append(x, j.Parameter().Values()...)
	}
	return x
}

// bounds returns parameter bounds, finite bounds are moved inside.
func (m *maximizer) bounds() [][2]float64 {
	b := make([][2]float64, 0, m.dimension)
	for _, j := range m.gradients {
		par := j.Parameter()
		for i := 0; i < par.Dimension(); i++ {
			min, max := par.Bounds(i)
			b = append(b, [2]float64{min + 1e-5, max - 1e-5})
		}
	}
	return b
}

// set assigns the values, returns false if they are out of range.
func (m *maximizer) set(x []float64) bool {
	offset := 0
	for _, j := range m.gradients {
		par := j.Parameter()
		n := par.Dimension()
		if err := par.SetValues(x[offset : offset+n]); err != nil {
			log.Debug("Cannot set parameter values:", err)
			return false
		}
		if !par.InRange() {
			return false
		}
		offset += n
	}
	return true
}

// EvaluateFunction returns the negative log-likelihood.
func (m *maximizer) EvaluateFunction(x []float64) float64 {
	if !m.set(x) {
		return math.Inf(+1)
	}
	m.calls++
	return -m.likelihood.LogLikelihood()
}

// EvaluateGradient returns the negative gradient.
func (m *maximizer) EvaluateGradient(x []float64) []float64 {
	if m.grad == nil {
		m.grad = make([]float64, m.dimension)
	}
	offset := 0
	if !m.set(x) {
		for i := range m.grad {
			m.grad[i] = math.NaN()
		}
		return m.grad
	}
	for _, j := range m.gradients {
		g, err := j.GradientLogDensity()
		if err != nil {
			log.Error("Error computing gradient:", err)
			g = make([]float64, j.Dimension())
			for i := range g {
				g[i] = math.NaN()
			}
		}
		for i, v := range g {
			m.grad[offset+i] = -v
		}
		offset += len(g)
	}
	return m.grad
}

func (m *maximizer) logger(info *lbfgsb.OptimizationIterationInformation) {
	log.Infof("%d\t%0.6f", info.Iteration, -info.F)
}

// Run maximizes the likelihood and leaves the parameters at the
// maximum. It returns the maximum log-likelihood.
func (m *maximizer) Run() float64 {
	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)
	opt.SetBounds(m.bounds())
	opt.SetLogger(m.logger)

	x0 := m.values()
	start := -m.EvaluateFunction(x0)
	min, exitStatus := opt.Minimize(m, m.values())
	log.Infof("Exit status: %v", exitStatus)

	maxL := -min.F
	if math.IsNaN(maxL) || maxL < start {
		log.Warningf("Optimization didn't improve the likelihood (%v < %v)", maxL, start)
		m.set(x0)
		return start
	}
	m.set(min.X)
	log.Noticef("Maximum likelihood: %0.6f (%d likelihood calls)", maxL, m.calls)
	return maxL
}
