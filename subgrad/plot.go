package main

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotGradients creates a scatter plot of the analytic gradients
// against the numeric ones, one series per parameter.
func plotGradients(fileName string, summaries []GradientSummary) error {
	p := plot.New()
	p.Title.Text = "Gradient check"
	p.X.Label.Text = "numeric"
	p.Y.Label.Text = "analytic"

	var series []interface{}
	for _, s := range summaries {
		if len(s.Numeric) != len(s.Gradient) {
			continue
		}
		pts := make(plotter.XYs, len(s.Gradient))
		for i := range pts {
			pts[i].X = s.Numeric[i]
			pts[i].Y = s.Gradient[i]
		}
		series = append(series, s.Parameter, pts)
	}
	if len(series) == 0 {
		return errors.New("no numeric gradients to plot")
	}

	// analytic = numeric
	diag := plotter.NewFunction(func(x float64) float64 { return x })
	diag.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(diag)

	if err := plotutil.AddScatters(p, series...); err != nil {
		return err
	}
	return p.Save(5*vg.Inch, 5*vg.Inch, fileName)
}
