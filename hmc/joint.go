package hmc

import (
	"fmt"
	"math"

	"github.com/gonum/floats"

	"bitbucket.org/Davydov/subgrad/inference"
)

// JointGradient combines providers sharing one parameter into a
// single provider. Derivatives are summed elementwise.
type JointGradient struct {
	dimension  int
	likelihood inference.Likelihood
	parameter  *inference.Parameter
	executor   *ParallelGradientExecutor

	providers    []GradientProvider
	highestOrder DerivativeOrder
}

// NewJointGradient creates a joint gradient. threadCount of 0 or 1
// evaluates providers sequentially, larger values use a worker pool
// of that size, and negative values use all the available CPUs.
func NewJointGradient(providers []GradientProvider, threadCount int) (*JointGradient, error) {
	if len(providers) == 0 {
		return nil, ErrEmptyProviders
	}

	first := providers[0]
	j := &JointGradient{
		dimension: first.Dimension(),
		parameter: first.Parameter(),
		providers: providers,
	}

	values := j.parameter.Values()
	for i, p := range providers {
		if p.Dimension() != j.dimension {
			return nil, fmt.Errorf("%w: provider %d (%s) has %d, expected %d",
				ErrDimensionMismatch, i, p.Likelihood().ID(), p.Dimension(), j.dimension)
		}
		if !floats.Equal(p.Parameter().Values(), values) {
			return nil, fmt.Errorf("%w: %s of provider %d (%s) differs from %s",
				ErrParameterMismatch, p.Parameter().Name(), i, p.Likelihood().ID(), j.parameter.Name())
		}
	}

	if len(providers) == 1 {
		j.likelihood = first.Likelihood()
	} else {
		var likelihoods []inference.Likelihood
		for _, p := range providers {
			outer := p.Likelihood()
			if _, ok := outer.(*inference.ReciprocalLikelihood); ok {
				likelihoods = inference.AppendUnique(likelihoods, outer)
				continue
			}
			for _, l := range outer.LikelihoodSet() {
				likelihoods = inference.AppendUnique(likelihoods, l)
			}
		}
		j.likelihood = inference.NewCompoundLikelihood(likelihoods)
	}

	j.highestOrder = MinHighestOrder(providers)

	if threadCount > 1 || threadCount < 0 {
		j.executor = NewParallelGradientExecutor(threadCount, providers)
	}
	log.Debugf("Joint gradient for %s: %d providers, highest order %v",
		j.parameter.Name(), len(providers), j.highestOrder)
	return j, nil
}

// Likelihood returns the combined likelihood.
func (j *JointGradient) Likelihood() inference.Likelihood {
	return j.likelihood
}

// Parameter returns the shared parameter.
func (j *JointGradient) Parameter() *inference.Parameter {
	return j.parameter
}

// Dimension returns the parameter dimension.
func (j *JointGradient) Dimension() int {
	return j.dimension
}

// Providers returns the joined providers.
func (j *JointGradient) Providers() []GradientProvider {
	return j.providers
}

// Parallel returns true if a worker pool is used.
func (j *JointGradient) Parallel() bool {
	return j.executor != nil
}

// HighestOrder returns the minimum highest order of all the
// providers.
func (j *JointGradient) HighestOrder() DerivativeOrder {
	return j.highestOrder
}

// DerivativeLogDensity computes a derivative of a given order.
func (j *JointGradient) DerivativeLogDensity(order DerivativeOrder) ([]float64, error) {
	if order > j.highestOrder || order < Gradient {
		return nil, fmt.Errorf("%w: %v requested, %v supported for %s",
			ErrUnsupportedOrder, order, j.highestOrder, j.parameter.Name())
	}
	if order == FullHessian {
		h, err := j.HessianLogDensity()
		if err != nil {
			return nil, err
		}
		return Flatten(h), nil
	}
	t, _ := typeForOrder(order)
	return j.derivativeLogDensity(t)
}

// GradientLogDensity computes the sum of the gradients.
func (j *JointGradient) GradientLogDensity() ([]float64, error) {
	return j.derivativeLogDensity(GradientType)
}

// DiagonalHessianLogDensity computes the sum of the hessian
// diagonals.
func (j *JointGradient) DiagonalHessianLogDensity() ([]float64, error) {
	return j.DerivativeLogDensity(DiagonalHessian)
}

// HessianLogDensity computes the sum of the full hessians.
func (j *JointGradient) HessianLogDensity() ([][]float64, error) {
	n := j.dimension
	flat := make([]float64, n*n)
	for i, p := range j.providers {
		h, err := flatHessian(p)
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if len(h) != n*n {
			return nil, fmt.Errorf("%w: hessian of provider %d has %d values, expected %d",
				ErrDimensionMismatch, i, len(h), n*n)
		}
		floats.Add(flat, h)
	}
	hessian := make([][]float64, n)
	for r := range hessian {
		hessian[r] = flat[r*n : (r+1)*n]
	}
	return hessian, nil
}

func (j *JointGradient) derivativeLogDensity(t DerivativeType) ([]float64, error) {
	if j.executor != nil {
		return j.executor.DerivativeLogDensityInParallel(t, SumReduce, j.dimension)
	}
	return j.serial(t)
}

// serial evaluates the providers in order.
func (j *JointGradient) serial(t DerivativeType) ([]float64, error) {
	derivative := make([]float64, j.dimension)
	for i, p := range j.providers {
		v, err := t.Eval(p)
		if err != nil {
			return nil, err
		}
		if len(v) != j.dimension {
			return nil, fmt.Errorf("%w: %s of provider %d has %d values, expected %d",
				ErrDimensionMismatch, t.Name(), i, len(v), j.dimension)
		}
		floats.Add(derivative, v)
	}
	return derivative, nil
}

// Report compares the analytic gradient with the numeric one.
func (j *JointGradient) Report() string {
	return "jointGradient." + j.parameter.Name() + "\n" +
		GradientReport(j, math.Inf(-1), math.Inf(+1), Tolerance)
}

// Close stops the worker pool if there is one.
func (j *JointGradient) Close() {
	if j.executor != nil {
		j.executor.Close()
	}
}
