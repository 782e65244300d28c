package substmodel

import (
	"fmt"
	"math"

	"github.com/gonum/floats"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/inference"
)

// frequencySumTolerance is the maximum deviation of the frequency sum
// from one.
const frequencySumTolerance = 1e-6

// FrequencyModel stores equilibrium state frequencies as a
// parameter.
type FrequencyModel struct {
	dataType  *bio.DataType
	parameter *inference.Parameter
}

// NewFrequencyModel creates a frequency model over a parameter. The
// parameter should have a value per state and sum to one.
func NewFrequencyModel(dt *bio.DataType, par *inference.Parameter) (*FrequencyModel, error) {
	if par.Dimension() != dt.StateCount() {
		return nil, fmt.Errorf("%w: %d frequencies for %d states",
			ErrDimension, par.Dimension(), dt.StateCount())
	}
	if err := checkFrequencies(par.Values()); err != nil {
		return nil, err
	}
	par.SetBounds(0, 1)
	return &FrequencyModel{dataType: dt, parameter: par}, nil
}

// EqualFrequencies creates a frequency model with all the states
// equally frequent.
func EqualFrequencies(dt *bio.DataType) *FrequencyModel {
	n := dt.StateCount()
	f := make([]float64, n)
	for i := range f {
		f[i] = 1 / float64(n)
	}
	fm, err := NewFrequencyModel(dt, inference.NewParameter("frequencies", f...))
	if err != nil {
		panic(err)
	}
	return fm
}

// EmpiricalFrequencies creates a frequency model from observed state
// counts.
func EmpiricalFrequencies(p *bio.Patterns) *FrequencyModel {
	fm, err := NewFrequencyModel(p.DataType,
		inference.NewParameter("frequencies", p.StateFrequencies()...))
	if err != nil {
		panic(err)
	}
	return fm
}

func checkFrequencies(f []float64) error {
	for _, x := range f {
		if x < 0 || math.IsNaN(x) {
			return fmt.Errorf("%w: negative frequency %v", ErrFrequencies, x)
		}
	}
	if s := floats.Sum(f); math.Abs(s-1) > frequencySumTolerance {
		return fmt.Errorf("%w: frequencies sum to %v", ErrFrequencies, s)
	}
	return nil
}

// DataType returns the state alphabet.
func (fm *FrequencyModel) DataType() *bio.DataType {
	return fm.dataType
}

// Parameter returns the frequency parameter.
func (fm *FrequencyModel) Parameter() *inference.Parameter {
	return fm.parameter
}

// Frequencies returns a copy of the frequencies.
func (fm *FrequencyModel) Frequencies() []float64 {
	return fm.parameter.Values()
}

// Check validates the current frequencies.
func (fm *FrequencyModel) Check() error {
	return checkFrequencies(fm.parameter.Values())
}
