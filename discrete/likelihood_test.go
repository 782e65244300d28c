package discrete

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/branchmodel"
	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
	"bitbucket.org/Davydov/subgrad/treelh"
)

const numericTolerance = 1e-4

var alignment = []string{
	"ACGTAACGTTAGCA",
	"ACGTTACGTAAGCA",
	"AGGTAACCTTAGGA",
	"TCGAAACGTTCGCA",
	"TCGAAGCGTTCGCT",
}

func newTreeLikelihood(tst *testing.T, seqs []string, bm branchmodel.BranchModel) *treelh.TreeDataLikelihood {
	t, err := tree.ParseNewick(bytes.NewBufferString(
		"((a:0.1,b:0.25)#1:0.15,(c:0.3,(d:0.05,e:0.1):0.1)#1:0.2);"))
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	var s bio.Sequences
	for i, seq := range seqs {
		s = append(s, bio.Sequence{Name: string(rune('a' + i)), Sequence: seq})
	}
	p, err := bio.NewPatterns(s, bio.Nucleotides)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	l, err := treelh.NewTreeDataLikelihood("treeLikelihood", t, p, bm)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	return l
}

func logRates() []float64 {
	lr := make([]float64, 12)
	for k := range lr {
		lr[k] = 0.3*math.Sin(float64(k)) - 0.1*float64(k%4)
	}
	return lr
}

func frequencies(tst *testing.T) *substmodel.FrequencyModel {
	fm, err := substmodel.NewFrequencyModel(bio.Nucleotides,
		inference.NewParameter("frequencies", 0.2, 0.3, 0.15, 0.35))
	if err != nil {
		tst.Fatal("Error:", err)
	}
	return fm
}

func checkNumeric(tst *testing.T, p hmc.GradientProvider) []float64 {
	c, err := hmc.CheckGradient(p, math.Inf(-1), math.Inf(1), numericTolerance)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if !c.OK() {
		tst.Errorf("%s: analytic %v, numeric %v", c.Parameter, c.Analytic, c.Numeric)
	}
	return c.Analytic
}

func TestRandomEffectsNumeric(tst *testing.T) {
	for _, normalize := range []bool{false, true} {
		m, err := substmodel.NewGlm("glm", frequencies(tst), nil, nil,
			inference.NewParameter("re", logRates()...), normalize)
		if err != nil {
			tst.Fatal("Error:", err)
		}
		l := newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(m))
		k, err := NewRandomEffectsGradient("glm", l, m, m.RandomEffects(), Options{})
		if err != nil {
			tst.Fatal("Error:", err)
		}
		checkNumeric(tst, k)
		if l.TreeTrait(treelh.CrossProductTraitName("glm")) == nil {
			tst.Error("Cross product trait wasn't registered")
		}
	}
}

func TestRatesGradient(tst *testing.T) {
	fm := frequencies(tst)
	lr := logRates()
	r := make([]float64, len(lr))
	for i := range lr {
		r[i] = math.Exp(lr[i])
	}
	c, err := substmodel.NewComplex("complex", fm, inference.NewParameter("rates", r...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	kc, err := NewRatesGradient("complex", newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(c)), c, Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	gc := checkNumeric(tst, kc)

	g, err := substmodel.NewGlm("glm", fm, nil, nil, inference.NewParameter("re", lr...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	kg, err := NewRandomEffectsGradient("glm", newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(g)),
		g, g.RandomEffects(), Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	gg, err := kg.GradientLogDensity()
	if err != nil {
		tst.Fatal("Error:", err)
	}
	for i := range gc {
		if math.Abs(gc[i]-gg[i]/r[i]) > 1e-8 {
			tst.Error("Rates gradient isn't random effects gradient over rate:", i, gc[i], gg[i]/r[i])
		}
	}
}

func TestFixedEffects(tst *testing.T) {
	design := make([][]float64, 2)
	for c := range design {
		design[c] = make([]float64, 12)
		for k := range design[c] {
			design[c][k] = float64((k + c) % 3)
		}
	}
	m, err := substmodel.NewGlm("glm", frequencies(tst), inference.NewParameter("beta", 0.2, -0.1), design,
		inference.NewParameter("re", logRates()...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	l := newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(m))
	kf, err := NewFixedEffectsGradient("glm", l, m, Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	kr, err := NewRandomEffectsGradient("glm", l, m, m.RandomEffects(), Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	gf := checkNumeric(tst, kf)
	gr, err := kr.GradientLogDensity()
	if err != nil {
		tst.Fatal("Error:", err)
	}
	for c := range design {
		exp := 0.0
		for k, x := range design[c] {
			exp += x * gr[k]
		}
		if math.Abs(gf[c]-exp) > 1e-8 {
			tst.Error("Wrong fixed effects gradient:", c, gf[c], exp)
		}
	}
}

// Two branch classes share one model: the accumulated gradient is
// the homogeneous one.
func TestEpochsNumeric(tst *testing.T) {
	m, err := substmodel.NewGlm("glm", frequencies(tst), nil, nil,
		inference.NewParameter("re", logRates()...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	other, err := substmodel.NewGlm("other", frequencies(tst), nil, nil,
		inference.NewParameter("other.re", make([]float64, 12)...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	bm, err := branchmodel.NewClass([]int{0, 1}, []substmodel.Model{m, m})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	lc := newTreeLikelihood(tst, alignment, bm)
	kc, err := NewRandomEffectsGradient("glm", lc, m, m.RandomEffects(), Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	gc := checkNumeric(tst, kc)

	kh, err := NewRandomEffectsGradient("glm", newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(m)),
		m, m.RandomEffects(), Options{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	gh, err := kh.GradientLogDensity()
	if err != nil {
		tst.Fatal("Error:", err)
	}
	if !equalApprox(gc, gh, 1e-8) {
		tst.Error("Accumulated gradient differs:", gc, gh)
	}

	// only class 0 branches use the model now
	if err := bm.SetModel(1, other); err != nil {
		tst.Fatal("Error:", err)
	}
	checkNumeric(tst, kc)
}

func TestJointPartitions(tst *testing.T) {
	m, err := substmodel.NewGlm("glm", frequencies(tst), nil, nil,
		inference.NewParameter("re", logRates()...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	half := make([]string, len(alignment))
	for i, s := range alignment {
		half[i] = s[:7]
	}
	var providers []hmc.GradientProvider
	var sum []float64
	for i, seqs := range [][]string{alignment, half} {
		l := newTreeLikelihood(tst, seqs, branchmodel.NewHomogeneous(m))
		k, err := NewRandomEffectsGradient("glm", l, m, m.RandomEffects(), Options{})
		if err != nil {
			tst.Fatal("Error:", err)
		}
		g, err := k.GradientLogDensity()
		if err != nil {
			tst.Fatal("Error:", err)
		}
		if i == 0 {
			sum = g
		} else {
			for j := range sum {
				sum[j] += g[j]
			}
		}
		providers = append(providers, k)
	}

	for _, threads := range []int{1, 2} {
		j, err := hmc.NewJointGradient(providers, threads)
		if err != nil {
			tst.Fatal("Error:", err)
		}
		g, err := j.GradientLogDensity()
		if err != nil {
			tst.Fatal("Error:", err)
		}
		if !equalApprox(g, sum, 1e-10) {
			tst.Error("Joint gradient isn't the sum:", g, sum)
		}
		checkNumeric(tst, j)
		if r := j.Report(); strings.Contains(r, "WARNING") {
			tst.Error("Unexpected warning in report:", r)
		}
		j.Close()
	}
}

func TestKernelReport(tst *testing.T) {
	m, err := substmodel.NewGlm("glm", frequencies(tst), nil, nil,
		inference.NewParameter("re", logRates()...), true)
	if err != nil {
		tst.Fatal("Error:", err)
	}
	l := newTreeLikelihood(tst, alignment, branchmodel.NewHomogeneous(m))
	k, err := NewRandomEffectsGradient("glm", l, m, m.RandomEffects(),
		Options{CountOperations: true, DebugCrossProducts: true})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	r := k.Report()
	for _, s := range []string{"substitutionModelGradient.re", "analytic:", "differentials:", "Gradient count: 1"} {
		if !strings.Contains(r, s) {
			tst.Errorf("Report doesn't contain %q:\n%s", s, r)
		}
	}
	if strings.Contains(r, "WARNING") {
		tst.Error("Unexpected warning:\n", r)
	}
}
