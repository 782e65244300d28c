package main

import (
	"runtime"

	"bitbucket.org/Davydov/subgrad/discrete"
	"bitbucket.org/Davydov/subgrad/hmc"
)

// gradientSettings stores kernel and aggregation settings.
type gradientSettings struct {
	nThreads  int
	affine    bool
	count     bool
	debug     bool
	report    bool
	tolerance float64
}

// newGradientSettings creates settings from the command-line options.
func newGradientSettings() *gradientSettings {
	gs := &gradientSettings{
		nThreads:  *nThreads,
		affine:    *affine,
		count:     *countOps,
		debug:     *debugCP,
		report:    *report,
		tolerance: *tolerance,
	}
	if gs.nThreads == 0 {
		gs.nThreads = runtime.GOMAXPROCS(0)
	}
	if gs.tolerance <= 0 {
		gs.tolerance = hmc.Tolerance
	}
	return gs
}

// options returns kernel options.
func (gs *gradientSettings) options() discrete.Options {
	return discrete.Options{
		AffineCorrection:   gs.affine,
		CountOperations:    gs.count,
		DebugCrossProducts: gs.debug,
		ReportTolerance:    gs.tolerance,
	}
}
