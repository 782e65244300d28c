package substmodel

import (
	"errors"
	"fmt"
	"math"

	"bitbucket.org/Davydov/subgrad/inference"
)

// Glm is a model with log-linear rates:
//
//	log r[k] = Σ_c β[c]·X[c][k] + ε[k].
//
// Both the fixed effects β with the design matrix X and the random
// effects ε are optional.
type Glm struct {
	*generator
	coefficients  *inference.Parameter
	design        [][]float64
	randomEffects *inference.Parameter
}

// NewGlm creates a new log-linear model. design[c] is the predictor c
// for every rate cell in the RateLayout order.
func NewGlm(name string, freq *FrequencyModel, coefficients *inference.Parameter, design [][]float64,
	randomEffects *inference.Parameter, normalize bool) (*Glm, error) {
	n := freq.DataType().StateCount()
	nRates := n * (n - 1)
	if coefficients == nil && randomEffects == nil {
		return nil, errors.New("glm needs coefficients or random effects")
	}
	if coefficients != nil {
		if coefficients.Dimension() != len(design) {
			return nil, fmt.Errorf("%w: %d coefficients for %d predictors",
				ErrDimension, coefficients.Dimension(), len(design))
		}
		for c, x := range design {
			if len(x) != nRates {
				return nil, fmt.Errorf("%w: predictor %d has %d values, expected %d",
					ErrDimension, c, len(x), nRates)
			}
		}
	}
	if randomEffects != nil && randomEffects.Dimension() != nRates {
		return nil, fmt.Errorf("%w: %s has %d values, expected %d",
			ErrDimension, randomEffects.Name(), randomEffects.Dimension(), nRates)
	}

	m := &Glm{
		coefficients:  coefficients,
		design:        design,
		randomEffects: randomEffects,
	}
	m.generator = newGenerator(name, freq, normalize, m.Rates)
	m.generator.self = m
	if coefficients != nil {
		coefficients.AddListener(m.parameterChanged)
	}
	if randomEffects != nil {
		randomEffects.AddListener(m.parameterChanged)
	}
	return m, nil
}

// Coefficients returns the fixed effects parameter or nil.
func (m *Glm) Coefficients() *inference.Parameter {
	return m.coefficients
}

// Design returns the design matrix, one row per coefficient.
func (m *Glm) Design() [][]float64 {
	return m.design
}

// RandomEffects returns the random effects parameter or nil.
func (m *Glm) RandomEffects() *inference.Parameter {
	return m.randomEffects
}

// Rates returns the current rates in the RateLayout order.
func (m *Glm) Rates() []float64 {
	n := m.freq.DataType().StateCount()
	lr := make([]float64, n*(n-1))
	if m.coefficients != nil {
		beta := m.coefficients.Values()
		for c, x := range m.design {
			for k := range lr {
				lr[k] += beta[c] * x[k]
			}
		}
	}
	if m.randomEffects != nil {
		for k, e := range m.randomEffects.Values() {
			lr[k] += e
		}
	}
	for k := range lr {
		lr[k] = math.Exp(lr[k])
	}
	return lr
}
