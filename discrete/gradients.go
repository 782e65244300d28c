package discrete

import (
	"errors"
	"fmt"

	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/substmodel"
)

// layoutFor returns the cell layout for a parameter with a value per
// off-diagonal cell.
func layoutFor(stateCount int, par *inference.Parameter) ([][2]int, error) {
	asymmetric := stateCount * (stateCount - 1)
	switch par.Dimension() {
	case asymmetric:
		return substmodel.RateLayout(stateCount), nil
	case asymmetric / 2:
		return nil, fmt.Errorf("%w: symmetric layout for %s", ErrNotImplemented, par.Name())
	default:
		return nil, fmt.Errorf("%w: %s has dimension %d for %d states",
			ErrLayout, par.Name(), par.Dimension(), stateCount)
	}
}

// randomEffects is the rule for the log-additive effects on the
// rates:
//
//	∂lnL/∂ε[k] = (D[i,j] - D[i,i])·Q[i,j] - Q[i,j]·π[i]·C,
//
// where (i, j) is the cell of k and C = Σ D·Q over all the cells if
// the generator is normalized, 0 otherwise.
type randomEffects struct {
	n      int
	layout [][2]int
}

func (r randomEffects) normalization(d, q []float64, normalize bool) (total float64) {
	if !normalize {
		return 0
	}
	for i := range d {
		total += d[i] * q[i]
	}
	return total
}

func (r randomEffects) coordinate(k int, d, q, pi []float64, normalize bool, c float64) float64 {
	i, j := r.layout[k][0], r.layout[k][1]
	qij := q[i*r.n+j]
	total := (d[i*r.n+j] - d[i*r.n+i]) * qij
	if normalize {
		total -= qij * pi[i] * c
	}
	return total
}

// NewRandomEffectsGradient creates a gradient provider for the random
// effects of a log-linear model. The parameter should have a value
// per off-diagonal cell; the symmetric layout with a value per pair
// of cells is not supported.
func NewRandomEffectsGradient(traitName string, lik TreeLikelihood, model substmodel.Model,
	effects *inference.Parameter, opts Options) (*Kernel, error) {
	if effects == nil {
		return nil, errors.New("no random effects parameter")
	}
	n := model.DataType().StateCount()
	layout, err := layoutFor(n, effects)
	if err != nil {
		return nil, err
	}
	return newKernel(traitName, lik, model, effects, randomEffects{n: n, layout: layout}, opts)
}

// rates is the rule for the rates of a complex model:
//
//	∂lnL/∂r[i,j] = f[i,j]·((D[i,j] - D[i,i]) - π[i]·C),
//
// where f[i,j] = ∂Q[i,j]/∂r[i,j] at fixed normalization. For positive
// rates it is the random effects gradient divided by the rate.
type rates struct {
	randomEffects
	model *substmodel.Complex
}

func (r rates) coordinate(k int, d, q, pi []float64, normalize bool, c float64) float64 {
	i, j := r.layout[k][0], r.layout[k][1]
	total := d[i*r.n+j] - d[i*r.n+i]
	if normalize {
		total -= pi[i] * c
	}
	return r.model.RateDerivative(i, j) * total
}

// NewRatesGradient creates a gradient provider for the rates of a
// complex model.
func NewRatesGradient(traitName string, lik TreeLikelihood, model *substmodel.Complex, opts Options) (*Kernel, error) {
	n := model.DataType().StateCount()
	layout, err := layoutFor(n, model.Rates())
	if err != nil {
		return nil, err
	}
	r := rates{
		randomEffects: randomEffects{n: n, layout: layout},
		model:         model,
	}
	return newKernel(traitName, lik, model, model.Rates(), r, opts)
}

// fixedEffects is the rule for the coefficients of a log-linear
// model, ∂lnL/∂β[c] = Σ_k X[c][k]·∂lnL/∂ε[k].
type fixedEffects struct {
	randomEffects
	design [][]float64
}

func (r fixedEffects) coordinate(c int, d, q, pi []float64, normalize bool, nc float64) (total float64) {
	for k, x := range r.design[c] {
		if x == 0 {
			continue
		}
		total += x * r.randomEffects.coordinate(k, d, q, pi, normalize, nc)
	}
	return total
}

// NewFixedEffectsGradient creates a gradient provider for the
// coefficients of a log-linear model.
func NewFixedEffectsGradient(traitName string, lik TreeLikelihood, model *substmodel.Glm, opts Options) (*Kernel, error) {
	if model.Coefficients() == nil {
		return nil, fmt.Errorf("model %s has no fixed effects", model.Name())
	}
	n := model.DataType().StateCount()
	r := fixedEffects{
		randomEffects: randomEffects{n: n, layout: substmodel.RateLayout(n)},
		design:        model.Design(),
	}
	return newKernel(traitName, lik, model, model.Coefficients(), r, opts)
}
