package treelh

import (
	"bytes"
	"errors"
	"math"
	"testing"

	logging "github.com/op/go-logging"
	"gonum.org/v1/gonum/diff/fd"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/branchmodel"
	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
)

const smallDiff = 1e-6

func init() {
	logging.SetLevel(logging.WARNING, "treelh")
	logging.SetLevel(logging.WARNING, "substmodel")
	logging.SetLevel(logging.WARNING, "branchmodel")
}

var binary = &bio.DataType{Name: "binary", States: "01"}

func parseTree(tst *testing.T, s string) *tree.Tree {
	t, err := tree.ParseNewick(bytes.NewBufferString(s))
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	return t
}

func newPatterns(tst *testing.T, dt *bio.DataType, seqs ...string) *bio.Patterns {
	var s bio.Sequences
	for i, seq := range seqs {
		s = append(s, bio.Sequence{Name: string(rune('a' + i)), Sequence: seq})
	}
	p, err := bio.NewPatterns(s, dt)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	return p
}

func newModel(tst *testing.T, dt *bio.DataType, normalize bool, rates ...float64) *substmodel.Complex {
	m, err := substmodel.NewComplex("m", substmodel.EqualFrequencies(dt),
		inference.NewParameter("rates", rates...), normalize)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	return m
}

func TestTwoTaxa(tst *testing.T) {
	t := parseTree(tst, "(a:0.3,b:0.7):0;")
	p := newPatterns(tst, binary, "0011", "0101")
	m := newModel(tst, binary, false, 2, 2)
	l, err := NewTreeDataLikelihood("lh", t, p, branchmodel.NewHomogeneous(m))
	if err != nil {
		tst.Fatal("Error:", err)
	}

	// Q = [[-1,1],[1,-1]]
	same := func(t float64) float64 { return 0.5 + 0.5*math.Exp(-2*t) }
	diff := func(t float64) float64 { return 0.5 - 0.5*math.Exp(-2*t) }
	lSame := 0.5 * (same(0.3)*same(0.7) + diff(0.3)*diff(0.7))
	lDiff := 0.5 * (same(0.3)*diff(0.7) + diff(0.3)*same(0.7))
	exp := 2*math.Log(lSame) + 2*math.Log(lDiff)

	if lnL := l.LogLikelihood(); math.Abs(lnL-exp) > smallDiff {
		tst.Errorf("Wrong likelihood: %v, expected %v", lnL, exp)
	}
}

func TestGapsAndErrors(tst *testing.T) {
	t := parseTree(tst, "((a:0.1,b:0.2):0.1,c:0.3):0;")
	m := newModel(tst, binary, true, 1, 1)

	// a gap in every sequence but one doesn't contribute
	p := newPatterns(tst, binary, "-", "?", "1")
	l, err := NewTreeDataLikelihood("lh", t, p, branchmodel.NewHomogeneous(m))
	if err != nil {
		tst.Fatal("Error:", err)
	}
	pi := m.Frequencies()
	if lnL := l.LogLikelihood(); math.Abs(lnL-math.Log(pi[1])) > smallDiff {
		tst.Error("Wrong likelihood with gaps:", lnL)
	}

	p2 := newPatterns(tst, binary, "0", "1")
	if _, err := NewTreeDataLikelihood("lh", t, p2, branchmodel.NewHomogeneous(m)); !errors.Is(err, ErrTaxonMismatch) {
		tst.Error("Expected taxon mismatch, got", err)
	}

	if _, err := l.Trait("missing", nil); !errors.Is(err, ErrUnknownTrait) {
		tst.Error("Expected unknown trait, got", err)
	}
	cp := NewCrossProductDelegate("x", l)
	if err := l.AddTraits(cp); err != nil {
		tst.Fatal("Error:", err)
	}
	if err := l.AddTraits(cp); err == nil {
		tst.Error("Expected duplicate trait error")
	}
	if l.TreeTrait(CrossProductTraitName("x")) != cp {
		tst.Error("Trait lookup failed")
	}
}

// Scaling the generator is equivalent to scaling branch lengths, so
// Σ D[k,l]·Q[k,l] = Σ_b t_b·∂lnL/∂t_b.
func TestCrossProductScaling(tst *testing.T) {
	t := parseTree(tst, "((a:0.1,b:0.25):0.15,(c:0.3,d:0.05):0.2):0;")
	p := newPatterns(tst, bio.Nucleotides, "ACGTAACG", "ACGTTACG", "AGGTAACC", "TCGAAACG")
	rates := make([]float64, 12)
	for i := range rates {
		rates[i] = 0.5 + float64(i%5)/3
	}
	m, err := substmodel.NewComplex("m", substmodel.EmpiricalFrequencies(p),
		inference.NewParameter("rates", rates...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	l, err := NewTreeDataLikelihood("lh", t, p, branchmodel.NewHomogeneous(m))
	if err != nil {
		tst.Fatal("Error:", err)
	}
	d, err := NewCrossProductDelegate("x", l).Trait(t, nil)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if len(d) != 16 {
		tst.Fatal("Wrong cross product length:", len(d))
	}

	out := make([]float64, 16)
	m.InfinitesimalMatrix(out)
	lhs := 0.0
	for i := range d {
		lhs += d[i] * out[i]
	}

	rhs := 0.0
	for _, node := range t.Nodes() {
		if node.IsRoot() {
			continue
		}
		bl := node.BranchLength
		f := func(x float64) float64 {
			node.BranchLength = x
			return l.LogLikelihood()
		}
		rhs += bl * fd.Derivative(f, bl, &fd.Settings{Formula: fd.Central})
		node.BranchLength = bl
	}
	if math.Abs(lhs-rhs) > 1e-5 {
		tst.Errorf("Cross products are inconsistent: %v != %v", lhs, rhs)
	}
}

// Splitting branches between two instances of the same model splits
// the cross products into blocks summing to the homogeneous ones.
func TestCrossProductBlocks(tst *testing.T) {
	t := parseTree(tst, "((a:0.1,b:0.25)#1:0.15,c:0.3):0;")
	p := newPatterns(tst, bio.Nucleotides, "ACGTA", "ACGTT", "AGGTA")
	r := make([]float64, 12)
	for i := range r {
		r[i] = 1 + float64(i)/10
	}
	m := newModel(tst, bio.Nucleotides, true, r...)

	lh, err := NewTreeDataLikelihood("lh", t, p, branchmodel.NewHomogeneous(m))
	if err != nil {
		tst.Fatal("Error:", err)
	}
	bm, err := branchmodel.NewClass([]int{0, 1}, []substmodel.Model{m, m})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	lc, err := NewTreeDataLikelihood("lc", t, p, bm)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if math.Abs(lh.LogLikelihood()-lc.LogLikelihood()) > smallDiff {
		tst.Error("Likelihoods differ")
	}

	dh, err := NewCrossProductDelegate("x", lh).Trait(t, nil)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	dc, err := NewCrossProductDelegate("x", lc).Trait(t, nil)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if len(dc) != 32 {
		tst.Fatal("Wrong blocked cross product length:", len(dc))
	}
	for i := range dh {
		if math.Abs(dh[i]-dc[i]-dc[16+i]) > smallDiff {
			tst.Error("Blocks don't sum up at", i, dh[i], dc[i], dc[16+i])
		}
	}
}
