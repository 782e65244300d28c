package inference

import (
	"errors"
	"testing"
)

type constLikelihood struct {
	id string
	v  float64
}

func (c *constLikelihood) ID() string                  { return c.id }
func (c *constLikelihood) LogLikelihood() float64      { return c.v }
func (c *constLikelihood) LikelihoodSet() []Likelihood { return []Likelihood{c} }
func (c *constLikelihood) MakeDirty()                  {}

func TestParameterListeners(tst *testing.T) {
	p := NewParameter("x", 1, 2, 3)
	calls := 0
	last := 0
	p.AddListener(func(par *Parameter, i int) {
		calls++
		last = i
	})
	p.SetValue(1, 2)
	if calls != 0 {
		tst.Error("Listener called for unchanged value")
	}
	p.SetValue(1, 5)
	if calls != 1 || last != 1 {
		tst.Error("Expected one call for index 1, got", calls, last)
	}
	if p.Version() != 1 {
		tst.Error("Expected version 1, got", p.Version())
	}
	if err := p.SetValues([]float64{1, 2}); !errors.Is(err, ErrDimension) {
		tst.Error("Expected dimension error, got", err)
	}
	if err := p.SetValues([]float64{0, 0, 0}); err != nil {
		tst.Error("Error:", err)
	}
	if calls != 2 || last != -1 {
		tst.Error("Expected call with index -1, got", calls, last)
	}
}

func TestParameterBounds(tst *testing.T) {
	p := NewParameter("x", 0.5, 1.5)
	p.SetBounds(0, 1)
	if p.InRange() {
		tst.Error("Value 1.5 should be out of range")
	}
	min, max := p.Bounds(1)
	if min != 0 || max != 1 {
		tst.Error("Wrong bounds:", min, max)
	}
}

func TestCompoundLikelihood(tst *testing.T) {
	a := &constLikelihood{"a", -1}
	b := &constLikelihood{"b", -2}
	r := NewReciprocalLikelihood(b)

	inner := NewCompoundLikelihood([]Likelihood{a, b})
	outer := NewCompoundLikelihood([]Likelihood{inner, a, r})

	if l := outer.LogLikelihood(); l != -1-2-1+2 {
		tst.Error("Wrong compound log-likelihood:", l)
	}
	set := outer.LikelihoodSet()
	if len(set) != 3 {
		tst.Fatal("Expected three unique likelihoods, got", len(set))
	}
	if set[0] != Likelihood(a) || set[1] != Likelihood(b) || set[2] != Likelihood(r) {
		tst.Error("Unexpected likelihood set order:", set)
	}
}
