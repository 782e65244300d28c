package hmc

import (
	"bytes"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

// Tolerance is the default maximum relative difference between the
// analytic and the numeric gradient.
const Tolerance = 1e-2

// GradientCheck stores a comparison of the analytic and the numeric
// gradient.
type GradientCheck struct {
	// Parameter is the parameter name.
	Parameter string `json:"parameter"`
	// Analytic is the gradient computed by the provider.
	Analytic []float64 `json:"analytic"`
	// Numeric is the finite difference gradient of the likelihood.
	Numeric []float64 `json:"numeric"`
	// MaxDiff is the maximum relative difference.
	MaxDiff float64 `json:"maxDiff"`
	// Tolerance is the tolerance used.
	Tolerance float64 `json:"tolerance"`
}

// OK returns true if the difference is within the tolerance.
func (c *GradientCheck) OK() bool {
	return c.MaxDiff <= c.Tolerance
}

// NumericGradient computes a finite difference gradient of the
// provider likelihood with respect to the provider parameter. The
// stencil is kept inside [lower, upper] and the parameter bounds.
// Parameter values are restored afterwards.
func NumericGradient(p GradientProvider, lower, upper float64) []float64 {
	par := p.Parameter()
	lik := p.Likelihood()
	saved := par.Values()
	defer func() {
		if err := par.SetValues(saved); err != nil {
			log.Error("Error restoring parameter values:", err)
		}
	}()

	numeric := make([]float64, len(saved))
	for i := range saved {
		min, max := par.Bounds(i)
		min = math.Max(min, lower)
		max = math.Min(max, upper)

		formula := fd.Central
		x := saved[i]
		switch {
		case x-formula.Step < min:
			formula = fd.Forward
		case x+formula.Step > max:
			formula = fd.Backward
		}

		f := func(v float64) float64 {
			par.SetValue(i, v)
			return lik.LogLikelihood()
		}
		numeric[i] = fd.Derivative(f, x, &fd.Settings{Formula: formula})
		par.SetValue(i, x)
	}
	return numeric
}

// CheckGradient compares the analytic gradient with the numeric one.
func CheckGradient(p GradientProvider, lower, upper, tolerance float64) (*GradientCheck, error) {
	analytic, err := p.GradientLogDensity()
	if err != nil {
		return nil, err
	}
	numeric := NumericGradient(p, lower, upper)
	c := &GradientCheck{
		Parameter: p.Parameter().Name(),
		Analytic:  analytic,
		Numeric:   numeric,
		Tolerance: tolerance,
	}
	for i := range analytic {
		d := math.Abs(analytic[i]-numeric[i]) /
			math.Max(1, math.Max(math.Abs(analytic[i]), math.Abs(numeric[i])))
		if d > c.MaxDiff || math.IsNaN(d) {
			c.MaxDiff = d
		}
	}
	return c, nil
}

// GradientReport returns a textual comparison of the analytic and the
// numeric gradient. A difference above the tolerance is reported as
// a warning line, errors are reported as text.
func GradientReport(p GradientProvider, lower, upper, tolerance float64) string {
	var b bytes.Buffer
	c, err := CheckGradient(p, lower, upper, tolerance)
	if err != nil {
		fmt.Fprintf(&b, "Error computing gradient: %v\n", err)
		return b.String()
	}
	fmt.Fprintf(&b, "analytic: %s\n", floatsString(c.Analytic))
	fmt.Fprintf(&b, "numeric:  %s\n", floatsString(c.Numeric))
	if !c.OK() {
		fmt.Fprintf(&b, "WARNING: gradient of %s differs from numeric (max relative difference %g > %g)\n",
			c.Parameter, c.MaxDiff, tolerance)
		log.Warningf("Gradient check failed for %s: %g", c.Parameter, c.MaxDiff)
	}
	return b.String()
}

func floatsString(fs []float64) string {
	var b bytes.Buffer
	for i, f := range fs {
		if i != 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.6g", f)
	}
	return b.String()
}
