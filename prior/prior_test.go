package prior

import (
	"errors"
	"math"
	"testing"

	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
)

const tolerance = 1e-6

func init() {
	logging.SetLevel(logging.WARNING, "prior")
	logging.SetLevel(logging.WARNING, "hmc")
}

func checkProvider(tst *testing.T, p hmc.GradientProvider) {
	c, err := hmc.CheckGradient(p, math.Inf(-1), math.Inf(1), tolerance)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if !c.OK() {
		tst.Errorf("%s: analytic %v, numeric %v", c.Parameter, c.Analytic, c.Numeric)
	}
}

func TestNormal(tst *testing.T) {
	x := inference.NewParameter("x", -1, 0.5, 2)
	n, err := NewNormal("normal", x, 0.3, 1.5)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	checkProvider(tst, n)

	exp := 0.0
	for _, v := range x.Values() {
		exp += -0.5*math.Log(2*math.Pi*1.5*1.5) - (v-0.3)*(v-0.3)/(2*1.5*1.5)
	}
	if math.Abs(n.LogLikelihood()-exp) > 1e-12 {
		tst.Error("Wrong log density:", n.LogLikelihood(), exp)
	}

	h, err := n.DerivativeLogDensity(hmc.FullHessian)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if len(h) != 9 || h[0] != -1/2.25 || h[1] != 0 || h[8] != -1/2.25 {
		tst.Error("Wrong hessian:", h)
	}
	if hmc.HighestOrderOf(n) != hmc.FullHessian {
		tst.Error("Wrong highest order")
	}

	if _, err := NewNormal("bad", x, 0, 0); !errors.Is(err, ErrParameter) {
		tst.Error("Expected parameter error, got", err)
	}
}

func TestGamma(tst *testing.T) {
	x := inference.NewParameter("x", 0.5, 1.2, 3)
	x.SetBounds(0, math.Inf(1))
	shape := inference.NewParameter("shape", 2.5)
	g, err := NewGamma("gamma", x, shape, 0.7)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	checkProvider(tst, g)
	checkProvider(tst, g.ShapeGradient())

	x.SetValue(0, -1)
	if !math.IsInf(g.LogLikelihood(), -1) {
		tst.Error("Expected -Inf outside of support")
	}
	if _, err := g.GradientLogDensity(); !errors.Is(err, ErrParameter) {
		tst.Error("Expected parameter error, got", err)
	}

	if _, err := NewGamma("bad", x, inference.NewParameter("s", 1, 2), 1); !errors.Is(err, ErrParameter) {
		tst.Error("Expected parameter error, got", err)
	}
}

// Normal priors on the same parameter join with the hessian.
func TestJointPriors(tst *testing.T) {
	x := inference.NewParameter("x", 0.1, -0.2)
	n1, _ := NewNormal("n1", x, 0, 1)
	n2, _ := NewNormal("n2", x, 1, 2)
	j, err := hmc.NewJointGradient([]hmc.GradientProvider{n1, n2}, 0)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	d, err := j.DiagonalHessianLogDensity()
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if math.Abs(d[0]-(-1-0.25)) > 1e-12 {
		tst.Error("Wrong joint diagonal hessian:", d)
	}
	checkProvider(tst, j)
}
