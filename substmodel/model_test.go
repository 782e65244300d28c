package substmodel

import (
	"errors"
	"math"
	"testing"

	"github.com/gonum/matrix/mat64"
	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/inference"
)

const smallDiff = 1e-9

func init() {
	logging.SetLevel(logging.WARNING, "substmodel")
}

func newFreq(tst *testing.T, f ...float64) *FrequencyModel {
	fm, err := NewFrequencyModel(bio.Nucleotides, inference.NewParameter("pi", f...))
	if err != nil {
		tst.Fatal("Error:", err)
	}
	return fm
}

func newRates(n int) *inference.Parameter {
	r := make([]float64, n*(n-1))
	for k := range r {
		r[k] = 0.5 + float64(k)/4
	}
	return inference.NewParameter("rates", r...)
}

func checkRows(tst *testing.T, q *mat64.Dense) {
	n, _ := q.Dims()
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			if i != j && q.At(i, j) < 0 {
				tst.Error("Negative off-diagonal element", i, j, q.At(i, j))
			}
			s += q.At(i, j)
		}
		if math.Abs(s) > smallDiff {
			tst.Error("Row doesn't sum to zero:", i, s)
		}
	}
}

func TestRateLayout(tst *testing.T) {
	exp := [][2]int{{0, 1}, {0, 2}, {1, 2}, {1, 0}, {2, 0}, {2, 1}}
	layout := RateLayout(3)
	if len(layout) != len(exp) {
		tst.Fatal("Wrong layout length:", len(layout))
	}
	for k := range exp {
		if layout[k] != exp[k] {
			tst.Error("Wrong cell", k, layout[k], exp[k])
		}
	}
}

func TestComplexNormalized(tst *testing.T) {
	fm := newFreq(tst, 0.1, 0.2, 0.3, 0.4)
	rates := newRates(4)
	m, err := NewComplex("complex", fm, rates, true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	q := m.Generator()
	checkRows(tst, q)

	pi := m.Frequencies()
	mu := 0.0
	for i := range pi {
		mu -= pi[i] * q.At(i, i)
	}
	if math.Abs(mu-1) > smallDiff {
		tst.Error("Expected rate should be one, got", mu)
	}

	for k, c := range m.Layout() {
		exp := rates.Value(k) * pi[c[1]] / m.Scale()
		if math.Abs(q.At(c[0], c[1])-exp) > smallDiff {
			tst.Error("Wrong generator cell", c, q.At(c[0], c[1]), exp)
		}
		if d := m.RateDerivative(c[0], c[1]); math.Abs(d*rates.Value(k)-exp) > smallDiff {
			tst.Error("Wrong rate derivative", c, d)
		}
	}

	out := make([]float64, 16)
	m.InfinitesimalMatrix(out)
	if out[1*4+2] != q.At(1, 2) {
		tst.Error("InfinitesimalMatrix is not row-major")
	}
}

func TestComplexListeners(tst *testing.T) {
	fm := newFreq(tst, 0.25, 0.25, 0.25, 0.25)
	rates := newRates(4)
	m, err := NewComplex("complex", fm, rates, false)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	q0 := m.Generator().At(0, 1)
	calls := 0
	m.AddListener(func(Model) { calls++ })
	v := m.Version()
	rates.SetValue(0, 2*rates.Value(0))
	if calls != 1 || m.Version() == v {
		tst.Error("Listener wasn't called")
	}
	if q1 := m.Generator().At(0, 1); math.Abs(q1-2*q0) > smallDiff {
		tst.Error("Generator wasn't updated:", q0, q1)
	}
}

func TestComplexZeroRates(tst *testing.T) {
	fm := newFreq(tst, 0.25, 0.25, 0.25, 0.25)
	m, err := NewComplex("complex", fm, inference.NewParameter("rates", make([]float64, 12)...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	q := m.Generator()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if q.At(i, j) != 0 {
				tst.Error("Expected zero generator")
			}
		}
	}
	if m.RateDerivative(0, 1) != 0 {
		tst.Error("Expected zero rate derivative")
	}
}

func TestGlmMatchesComplex(tst *testing.T) {
	fm := newFreq(tst, 0.1, 0.2, 0.3, 0.4)
	rates := newRates(4)
	c, err := NewComplex("complex", fm, rates, true)
	if err != nil {
		tst.Fatal("Error:", err)
	}

	// one predictor, random effects carry the rest
	design := [][]float64{make([]float64, 12)}
	re := make([]float64, 12)
	for k := range design[0] {
		design[0][k] = float64(k % 3)
		re[k] = math.Log(rates.Value(k)) - 0.3*design[0][k]
	}
	g, err := NewGlm("glm", fm, inference.NewParameter("beta", 0.3), design,
		inference.NewParameter("re", re...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	qc := c.Generator()
	qg := g.Generator()
	checkRows(tst, qg)
	if !mat64.EqualApprox(qc, qg, smallDiff) {
		tst.Error("Generators differ")
	}
}

func TestErrors(tst *testing.T) {
	if _, err := NewFrequencyModel(bio.Nucleotides, inference.NewParameter("pi", 0.5, 0.5)); !errors.Is(err, ErrDimension) {
		tst.Error("Expected dimension error, got", err)
	}
	if _, err := NewFrequencyModel(bio.Nucleotides, inference.NewParameter("pi", 0.5, 0.5, 0.5, 0.5)); !errors.Is(err, ErrFrequencies) {
		tst.Error("Expected frequency error, got", err)
	}
	fm := EqualFrequencies(bio.Nucleotides)
	if _, err := NewComplex("c", fm, newRates(3), true); !errors.Is(err, ErrDimension) {
		tst.Error("Expected dimension error, got", err)
	}
	if _, err := NewGlm("g", fm, nil, nil, nil, true); err == nil {
		tst.Error("Expected error for empty glm")
	}
	if _, err := NewGlm("g", fm, inference.NewParameter("beta", 1), [][]float64{{1}}, nil, true); !errors.Is(err, ErrDimension) {
		tst.Error("Expected dimension error, got", err)
	}
}
