// Package prior implements prior densities with derivatives with
// respect to their arguments.
package prior

import (
	"errors"
	"fmt"
	"math"

	"github.com/gonum/mathext"
	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
)

var log = logging.MustGetLogger("prior")

// ErrParameter is returned for invalid distribution parameters.
var ErrParameter = errors.New("invalid distribution parameter")

// Normal is an independent normal prior on every coordinate of a
// parameter.
type Normal struct {
	id   string
	x    *inference.Parameter
	mean float64
	sd   float64
}

// NewNormal creates a new normal prior.
func NewNormal(id string, x *inference.Parameter, mean, sd float64) (*Normal, error) {
	if !(sd > 0) {
		return nil, fmt.Errorf("%w: normal standard deviation %v", ErrParameter, sd)
	}
	return &Normal{id: id, x: x, mean: mean, sd: sd}, nil
}

// ID returns the prior name.
func (n *Normal) ID() string {
	return n.id
}

// LogLikelihood returns the log-density.
func (n *Normal) LogLikelihood() (res float64) {
	c := -math.Log(n.sd) - 0.5*math.Log(2*math.Pi)
	for _, v := range n.x.Values() {
		z := (v - n.mean) / n.sd
		res += c - 0.5*z*z
	}
	return res
}

// LikelihoodSet returns the prior itself.
func (n *Normal) LikelihoodSet() []inference.Likelihood {
	return []inference.Likelihood{n}
}

// MakeDirty does nothing.
func (n *Normal) MakeDirty() {}

// Likelihood returns the prior itself.
func (n *Normal) Likelihood() inference.Likelihood {
	return n
}

// Parameter returns the argument.
func (n *Normal) Parameter() *inference.Parameter {
	return n.x
}

// Dimension returns the parameter dimension.
func (n *Normal) Dimension() int {
	return n.x.Dimension()
}

// GradientLogDensity returns -(x - mean)/sd².
func (n *Normal) GradientLogDensity() ([]float64, error) {
	g := n.x.Values()
	for i, v := range g {
		g[i] = -(v - n.mean) / (n.sd * n.sd)
	}
	return g, nil
}

// DiagonalHessianLogDensity returns -1/sd² for every coordinate.
func (n *Normal) DiagonalHessianLogDensity() ([]float64, error) {
	h := make([]float64, n.x.Dimension())
	for i := range h {
		h[i] = -1 / (n.sd * n.sd)
	}
	return h, nil
}

// HessianLogDensity returns the diagonal matrix.
func (n *Normal) HessianLogDensity() ([][]float64, error) {
	d, _ := n.DiagonalHessianLogDensity()
	h := make([][]float64, len(d))
	for i := range h {
		h[i] = make([]float64, len(d))
		h[i][i] = d[i]
	}
	return h, nil
}

// HighestOrder returns hmc.FullHessian.
func (n *Normal) HighestOrder() hmc.DerivativeOrder {
	return hmc.FullHessian
}

// DerivativeLogDensity computes a derivative of any order.
func (n *Normal) DerivativeLogDensity(order hmc.DerivativeOrder) ([]float64, error) {
	switch order {
	case hmc.Zeroth:
		return []float64{n.LogLikelihood()}, nil
	case hmc.Gradient:
		return n.GradientLogDensity()
	case hmc.DiagonalHessian:
		return n.DiagonalHessianLogDensity()
	case hmc.FullHessian:
		h, err := n.HessianLogDensity()
		return hmc.Flatten(h), err
	}
	return nil, fmt.Errorf("%w: %v", hmc.ErrUnsupportedOrder, order)
}

// Gamma is an independent gamma prior on every coordinate of a
// positive parameter. The shape is a parameter itself.
type Gamma struct {
	id    string
	x     *inference.Parameter
	shape *inference.Parameter
	scale float64
}

// NewGamma creates a new gamma prior. The shape parameter should be
// one-dimensional.
func NewGamma(id string, x, shape *inference.Parameter, scale float64) (*Gamma, error) {
	if shape.Dimension() != 1 {
		return nil, fmt.Errorf("%w: gamma shape %s has dimension %d", ErrParameter, shape.Name(), shape.Dimension())
	}
	if !(scale > 0) || !(shape.Value(0) > 0) {
		return nil, fmt.Errorf("%w: gamma shape %v, scale %v", ErrParameter, shape.Value(0), scale)
	}
	shape.SetBounds(0, math.Inf(1))
	return &Gamma{id: id, x: x, shape: shape, scale: scale}, nil
}

// ID returns the prior name.
func (g *Gamma) ID() string {
	return g.id
}

// LogLikelihood returns the log-density or -Inf outside the support.
func (g *Gamma) LogLikelihood() (res float64) {
	k := g.shape.Value(0)
	lg, _ := math.Lgamma(k)
	c := -lg - k*math.Log(g.scale)
	for _, v := range g.x.Values() {
		if v <= 0 {
			return math.Inf(-1)
		}
		res += c + (k-1)*math.Log(v) - v/g.scale
	}
	return res
}

// LikelihoodSet returns the prior itself.
func (g *Gamma) LikelihoodSet() []inference.Likelihood {
	return []inference.Likelihood{g}
}

// MakeDirty does nothing.
func (g *Gamma) MakeDirty() {}

// Likelihood returns the prior itself.
func (g *Gamma) Likelihood() inference.Likelihood {
	return g
}

// Parameter returns the argument.
func (g *Gamma) Parameter() *inference.Parameter {
	return g.x
}

// Dimension returns the parameter dimension.
func (g *Gamma) Dimension() int {
	return g.x.Dimension()
}

// GradientLogDensity returns (shape - 1)/x - 1/scale.
func (g *Gamma) GradientLogDensity() ([]float64, error) {
	k := g.shape.Value(0)
	grad := g.x.Values()
	for i, v := range grad {
		if v <= 0 {
			return nil, fmt.Errorf("%w: %s[%d] = %v outside of gamma support", ErrParameter, g.x.Name(), i, v)
		}
		grad[i] = (k-1)/v - 1/g.scale
	}
	return grad, nil
}

// ShapeGradient returns the gradient provider with respect to the
// shape.
func (g *Gamma) ShapeGradient() *GammaShapeGradient {
	return &GammaShapeGradient{gamma: g}
}

// GammaShapeGradient is the gradient of a gamma prior with respect
// to its shape:
//
//	Σ_i log x[i] - ψ(shape) - log scale.
type GammaShapeGradient struct {
	gamma *Gamma
}

// Likelihood returns the gamma prior.
func (s *GammaShapeGradient) Likelihood() inference.Likelihood {
	return s.gamma
}

// Parameter returns the shape.
func (s *GammaShapeGradient) Parameter() *inference.Parameter {
	return s.gamma.shape
}

// Dimension is always one.
func (s *GammaShapeGradient) Dimension() int {
	return 1
}

// GradientLogDensity computes the shape gradient.
func (s *GammaShapeGradient) GradientLogDensity() ([]float64, error) {
	k := s.gamma.shape.Value(0)
	x := s.gamma.x.Values()
	d := -float64(len(x)) * (mathext.Digamma(k) + math.Log(s.gamma.scale))
	for i, v := range x {
		if v <= 0 {
			return nil, fmt.Errorf("%w: %s[%d] = %v outside of gamma support", ErrParameter, s.gamma.x.Name(), i, v)
		}
		d += math.Log(v)
	}
	log.Debugf("%s: shape gradient %v at %v", s.gamma.id, d, k)
	return []float64{d}, nil
}
