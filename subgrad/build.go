package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/branchmodel"
	"bitbucket.org/Davydov/subgrad/discrete"
	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/prior"
	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
	"bitbucket.org/Davydov/subgrad/treelh"
)

// setup is an analysis ready for evaluation.
type setup struct {
	likelihoods []*treelh.TreeDataLikelihood
	kernels     []*discrete.Kernel
	gradients   []*hmc.JointGradient

	models     map[string]substmodel.Model
	parameters map[string]*inference.Parameter
	// order is the parameter order of the gradients.
	order     []string
	providers map[string][]hmc.GradientProvider
}

// Close stops the worker pools.
func (s *setup) Close() {
	for _, j := range s.gradients {
		j.Close()
	}
}

// LogLikelihood returns the sum over the partitions.
func (s *setup) LogLikelihood() (res float64) {
	for _, l := range s.likelihoods {
		res += l.LogLikelihood()
	}
	return res
}

func (s *setup) addParameter(p *inference.Parameter) {
	if p == nil {
		return
	}
	if _, ok := s.parameters[p.Name()]; ok {
		return
	}
	s.parameters[p.Name()] = p
	s.order = append(s.order, p.Name())
}

func (s *setup) addProvider(p hmc.GradientProvider) {
	name := p.Parameter().Name()
	s.addParameter(p.Parameter())
	s.providers[name] = append(s.providers[name], p)
}

func readPatterns(path string, dt *bio.DataType) (*bio.Patterns, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	seqs, err := bio.ParseFasta(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return bio.NewPatterns(seqs, dt)
}

func readTree(path string) (*tree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := tree.ParseNewick(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return t, nil
}

// frequencies creates the frequency model. The node is either a list
// of values, "equal" (the default) or "empirical", computed from the
// patterns.
func frequencies(mc ModelConfig, dt *bio.DataType, p *bio.Patterns) (*substmodel.FrequencyModel, error) {
	node := mc.Frequencies
	switch node.Kind {
	case 0:
		return substmodel.EqualFrequencies(dt), nil
	case yaml.ScalarNode:
		switch node.Value {
		case "equal":
			return substmodel.EqualFrequencies(dt), nil
		case "empirical":
			return substmodel.EmpiricalFrequencies(p), nil
		}
		return nil, fmt.Errorf("%w: model %s has unknown frequencies %q", ErrConfig, mc.Name, node.Value)
	case yaml.SequenceNode:
		var f []float64
		if err := node.Decode(&f); err != nil {
			return nil, fmt.Errorf("%w: model %s frequencies: %v", ErrConfig, mc.Name, err)
		}
		return substmodel.NewFrequencyModel(dt, inference.NewParameter(mc.Name+".frequencies", f...))
	}
	return nil, fmt.Errorf("%w: model %s has malformed frequencies", ErrConfig, mc.Name)
}

// newModel creates a substitution model. Parameters are named after
// the model: <name>.re, <name>.beta and <name>.rates.
func newModel(mc ModelConfig, fm *substmodel.FrequencyModel) (substmodel.Model, error) {
	n := fm.DataType().StateCount()
	switch mc.Type {
	case "glm":
		var re, beta *inference.Parameter
		if len(mc.RandomEffects) > 0 {
			re = inference.NewParameter(mc.Name+".re", mc.RandomEffects...)
		}
		if len(mc.Coefficients) > 0 {
			beta = inference.NewParameter(mc.Name+".beta", mc.Coefficients...)
		}
		if re == nil && beta == nil {
			re = inference.NewParameter(mc.Name+".re", make([]float64, n*(n-1))...)
		}
		return substmodel.NewGlm(mc.Name, fm, beta, mc.Design, re, mc.Normalize)
	case "complex":
		r := mc.Rates
		if len(r) == 0 {
			r = make([]float64, n*(n-1))
			for i := range r {
				r[i] = 1
			}
		}
		return substmodel.NewComplex(mc.Name, fm, inference.NewParameter(mc.Name+".rates", r...), mc.Normalize)
	}
	return nil, fmt.Errorf("%w: model %s has unknown type %q", ErrConfig, mc.Name, mc.Type)
}

// branchModel creates the branch model of a partition.
func (s *setup) branchModel(pc PartitionConfig, t *tree.Tree) (branchmodel.BranchModel, error) {
	if pc.Model != "" {
		return branchmodel.NewHomogeneous(s.models[pc.Model]), nil
	}
	classes := make([]int, 0, len(pc.Classes))
	for class := range pc.Classes {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	models := make([]substmodel.Model, len(classes))
	for i, class := range classes {
		models[i] = s.models[pc.Classes[class]]
	}
	bm, err := branchmodel.NewClass(classes, models)
	if err != nil {
		return nil, err
	}
	if err := bm.Check(t); err != nil {
		return nil, err
	}
	return bm, nil
}

// kernels creates the gradient providers of a model for a partition.
func kernels(l *treelh.TreeDataLikelihood, m substmodel.Model, opts discrete.Options) ([]*discrete.Kernel, error) {
	var ks []*discrete.Kernel
	switch m := m.(type) {
	case *substmodel.Glm:
		if m.RandomEffects() != nil {
			k, err := discrete.NewRandomEffectsGradient(m.Name(), l, m, m.RandomEffects(), opts)
			if err != nil {
				return nil, err
			}
			ks = append(ks, k)
		}
		if m.Coefficients() != nil {
			k, err := discrete.NewFixedEffectsGradient(m.Name(), l, m, opts)
			if err != nil {
				return nil, err
			}
			ks = append(ks, k)
		}
	case *substmodel.Complex:
		k, err := discrete.NewRatesGradient(m.Name(), l, m, opts)
		if err != nil {
			return nil, err
		}
		ks = append(ks, k)
	default:
		return nil, fmt.Errorf("no gradient for model %s", m.Name())
	}
	return ks, nil
}

// newPrior creates the prior providers.
func (s *setup) newPrior(pc PriorConfig) error {
	par, ok := s.parameters[pc.Parameter]
	if !ok {
		return fmt.Errorf("%w: prior %s on unknown parameter %s", ErrConfig, pc.Name, pc.Parameter)
	}
	switch pc.Type {
	case "normal":
		n, err := prior.NewNormal(pc.Name, par, pc.Mean, pc.SD)
		if err != nil {
			return err
		}
		s.addProvider(n)
	case "gamma":
		shape := inference.NewParameter(pc.Name+".shape", pc.Shape)
		g, err := prior.NewGamma(pc.Name, par, shape, pc.Scale)
		if err != nil {
			return err
		}
		s.addProvider(g)
		s.addProvider(g.ShapeGradient())
	}
	return nil
}

// Build creates the likelihoods, kernels and joint gradients.
func (a *Analysis) Build(gs *gradientSettings) (*setup, error) {
	dt, err := bio.NewDataType("states", a.States)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if dt.States == bio.Nucleotides.States {
		dt = bio.Nucleotides
	}

	s := &setup{
		models:     make(map[string]substmodel.Model, len(a.Models)),
		parameters: make(map[string]*inference.Parameter),
		providers:  make(map[string][]hmc.GradientProvider),
	}

	patterns := make([]*bio.Patterns, len(a.Partitions))
	for i, pc := range a.Partitions {
		patterns[i], err = readPatterns(a.path(pc.Alignment), dt)
		if err != nil {
			return nil, err
		}
		log.Infof("%s: %d taxa, %d patterns", a.partitionName(i), len(patterns[i].Taxa), patterns[i].NPatterns())
	}

	for _, mc := range a.Models {
		fm, err := frequencies(mc, dt, patterns[0])
		if err != nil {
			return nil, err
		}
		m, err := newModel(mc, fm)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.Name, err)
		}
		s.models[mc.Name] = m
	}

	opts := gs.options()
	for i, pc := range a.Partitions {
		tf := pc.Tree
		if tf == "" {
			tf = a.Tree
		}
		t, err := readTree(a.path(tf))
		if err != nil {
			return nil, err
		}
		bm, err := s.branchModel(pc, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.partitionName(i), err)
		}
		l, err := treelh.NewTreeDataLikelihood(a.partitionName(i), t, patterns[i], bm)
		if err != nil {
			return nil, err
		}
		s.likelihoods = append(s.likelihoods, l)

		seen := make(map[substmodel.Model]bool)
		for _, m := range bm.SubstitutionModels() {
			if seen[m] {
				continue
			}
			seen[m] = true
			ks, err := kernels(l, m, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.partitionName(i), err)
			}
			for _, k := range ks {
				s.kernels = append(s.kernels, k)
				s.addProvider(k)
			}
		}
	}

	for _, pc := range a.Priors {
		if err := s.newPrior(pc); err != nil {
			return nil, err
		}
	}

	selected := s.order
	if len(a.Gradients) > 0 {
		selected = a.Gradients
	}
	for _, name := range selected {
		ps, ok := s.providers[name]
		if !ok {
			s.Close()
			return nil, fmt.Errorf("%w: no gradient for parameter %s", ErrConfig, name)
		}
		j, err := hmc.NewJointGradient(ps, gs.nThreads)
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Debugf("%s: joining %d providers", name, len(ps))
		s.gradients = append(s.gradients, j)
	}
	return s, nil
}
