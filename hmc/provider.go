// Package hmc provides derivatives of log-densities with respect to
// parameters and their aggregation over several likelihoods.
package hmc

import (
	"errors"
	"fmt"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/inference"
)

// log is a global logging variable.
var log = logging.MustGetLogger("hmc")

// Errors returned by the providers and the joint gradient.
var (
	ErrEmptyProviders    = errors.New("no derivative providers")
	ErrDimensionMismatch = errors.New("unequal parameter dimensions")
	ErrParameterMismatch = errors.New("unequal parameter values")
	ErrUnsupportedOrder  = errors.New("unsupported derivative order")
	ErrNoHessian         = errors.New("provider does not compute hessian")
	ErrComputation       = errors.New("derivative computation failed")
)

// GradientProvider computes the gradient of a log-density with
// respect to one parameter.
type GradientProvider interface {
	// Likelihood returns the likelihood the gradient is derived
	// from.
	Likelihood() inference.Likelihood
	// Parameter returns the parameter the derivative is taken
	// with respect to.
	Parameter() *inference.Parameter
	// Dimension returns the number of gradient coordinates.
	Dimension() int
	// GradientLogDensity computes the gradient.
	GradientLogDensity() ([]float64, error)
}

// HessianProvider additionally computes second derivatives.
type HessianProvider interface {
	GradientProvider
	// DiagonalHessianLogDensity computes the diagonal of the
	// hessian matrix.
	DiagonalHessianLogDensity() ([]float64, error)
	// HessianLogDensity computes the full hessian matrix.
	HessianLogDensity() ([][]float64, error)
}

// DerivativeProvider declares the highest derivative order it
// supports and computes any order up to it.
type DerivativeProvider interface {
	GradientProvider
	// HighestOrder returns the maximum supported order.
	HighestOrder() DerivativeOrder
	// DerivativeLogDensity computes derivative of a given
	// order. Full hessian is returned flattened (row-major).
	DerivativeLogDensity(DerivativeOrder) ([]float64, error)
}

// DerivativeOrder is the order of a derivative.
type DerivativeOrder int

// Derivative orders.
const (
	Zeroth DerivativeOrder = iota
	Gradient
	DiagonalHessian
	FullHessian
)

// String returns the order name.
func (o DerivativeOrder) String() string {
	switch o {
	case Zeroth:
		return "zeroth"
	case Gradient:
		return "gradient"
	case DiagonalHessian:
		return "diagonalHessian"
	case FullHessian:
		return "fullHessian"
	}
	return fmt.Sprintf("order(%d)", int(o))
}

// DerivativeDimension returns the length of the flattened derivative
// for a parameter of dimension dim.
func (o DerivativeOrder) DerivativeDimension(dim int) int {
	switch o {
	case Zeroth:
		return 1
	case FullHessian:
		return dim * dim
	}
	return dim
}

// HighestOrderOf returns the highest derivative order of a provider.
// Providers not declaring it are assumed to compute the gradient,
// or the full hessian if they implement HessianProvider.
func HighestOrderOf(p GradientProvider) DerivativeOrder {
	switch t := p.(type) {
	case DerivativeProvider:
		return t.HighestOrder()
	case HessianProvider:
		return FullHessian
	}
	return Gradient
}

// MinHighestOrder returns the minimum highest order of a list.
func MinHighestOrder(providers []GradientProvider) DerivativeOrder {
	order := FullHessian
	for _, p := range providers {
		if o := HighestOrderOf(p); o < order {
			order = o
		}
	}
	return order
}

// DerivativeType is a strategy computing one kind of vector
// derivative of a provider.
type DerivativeType struct {
	name  string
	order DerivativeOrder
	eval  func(GradientProvider) ([]float64, error)
}

// Name returns the derivative type name.
func (t DerivativeType) Name() string {
	return t.name
}

// Order returns the derivative order.
func (t DerivativeType) Order() DerivativeOrder {
	return t.order
}

// Eval computes the derivative of a provider.
func (t DerivativeType) Eval(p GradientProvider) ([]float64, error) {
	return t.eval(p)
}

// Derivative types reduced by the joint gradient.
var (
	GradientType = DerivativeType{
		name:  "gradient",
		order: Gradient,
		eval: func(p GradientProvider) ([]float64, error) {
			return p.GradientLogDensity()
		},
	}
	DiagonalHessianType = DerivativeType{
		name:  "diagonalHessian",
		order: DiagonalHessian,
		eval: func(p GradientProvider) ([]float64, error) {
			if d, ok := p.(DerivativeProvider); ok && d.HighestOrder() >= DiagonalHessian {
				return d.DerivativeLogDensity(DiagonalHessian)
			}
			h, ok := p.(HessianProvider)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoHessian, p.Likelihood().ID())
			}
			return h.DiagonalHessianLogDensity()
		},
	}
)

// flatHessian computes the full hessian of a provider flattened
// row-major. A declared order is preferred over HessianProvider.
func flatHessian(p GradientProvider) ([]float64, error) {
	if d, ok := p.(DerivativeProvider); ok && d.HighestOrder() >= FullHessian {
		return d.DerivativeLogDensity(FullHessian)
	}
	h, ok := p.(HessianProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHessian, p.Likelihood().ID())
	}
	m, err := h.HessianLogDensity()
	if err != nil {
		return nil, err
	}
	return Flatten(m), nil
}

// typeForOrder returns a vector strategy for an order.
func typeForOrder(order DerivativeOrder) (DerivativeType, bool) {
	switch order {
	case Gradient:
		return GradientType, true
	case DiagonalHessian:
		return DiagonalHessianType, true
	}
	return DerivativeType{}, false
}

// Flatten converts a matrix to a row-major vector.
func Flatten(m [][]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	res := make([]float64, 0, len(m)*len(m[0]))
	for _, row := range m {
		res = append(res, row...)
	}
	return res
}
