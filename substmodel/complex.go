package substmodel

import (
	"fmt"

	"bitbucket.org/Davydov/subgrad/inference"
)

// Complex is a model with a free rate for every off-diagonal cell.
type Complex struct {
	*generator
	rates *inference.Parameter
}

// NewComplex creates a new complex model. The rates parameter has
// n·(n-1) values in the RateLayout order.
func NewComplex(name string, freq *FrequencyModel, rates *inference.Parameter, normalize bool) (*Complex, error) {
	n := freq.DataType().StateCount()
	if rates.Dimension() != n*(n-1) {
		return nil, fmt.Errorf("%w: %s has %d rates, expected %d",
			ErrDimension, rates.Name(), rates.Dimension(), n*(n-1))
	}
	rates.SetBounds(0, 1e100)
	m := &Complex{rates: rates}
	m.generator = newGenerator(name, freq, normalize, rates.Values)
	m.generator.self = m
	rates.AddListener(m.parameterChanged)
	return m, nil
}

// Rates returns the rate parameter.
func (m *Complex) Rates() *inference.Parameter {
	return m.rates
}

// Layout returns the rate cells.
func (m *Complex) Layout() [][2]int {
	return m.layout
}

// RateDerivative returns the derivative of the generator cell (i, j)
// with respect to the rate of this cell, with the normalization held
// fixed.
func (m *Complex) RateDerivative(i, j int) float64 {
	return m.rateDerivative(i, j)
}
