// Package discrete computes gradients of a tree likelihood with
// respect to the parameters of a substitution model from the cross
// products of the tree likelihood.
//
// The cross products D[i,j] are derivatives of the log-likelihood
// with respect to the generator cells Q[i,j]. A gradient kernel
// combines them with the generator of the target model using a
// parametrization specific rule.
package discrete

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gonum/blas/blas64"
	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/branchmodel"
	"bitbucket.org/Davydov/subgrad/hmc"
	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
	"bitbucket.org/Davydov/subgrad/treelh"
)

var log = logging.MustGetLogger("discrete")

var (
	// ErrUnknownModel is returned when the target model is not used
	// by the branch model.
	ErrUnknownModel = errors.New("unknown substitution model")
	// ErrNotImplemented is returned for recognized but unsupported
	// configurations.
	ErrNotImplemented = errors.New("not yet implemented")
	// ErrLayout is returned when the parameter dimension doesn't
	// correspond to any generator layout.
	ErrLayout = errors.New("unable to determine parameter layout")
	// ErrMissingTrait is returned when the cross product trait is
	// not available.
	ErrMissingTrait = errors.New("cross product trait is not available")
	// ErrTraitLength is returned when the cross products have an
	// unexpected length.
	ErrTraitLength = errors.New("unexpected cross product length")
)

// TreeLikelihood is the tree likelihood providing cross products.
type TreeLikelihood interface {
	inference.Likelihood
	Tree() *tree.Tree
	BranchModel() branchmodel.BranchModel
	TreeTrait(name string) treelh.TreeTrait
	AddTraits(traits ...treelh.TreeTrait) error
}

// Options are optional kernel settings. The zero value disables
// everything.
type Options struct {
	// AffineCorrection projects the cross products onto the space
	// respecting the zero row sums of the generator.
	AffineCorrection bool
	// CountOperations keeps the number of evaluations and the total
	// time for the report.
	CountOperations bool
	// DebugCrossProducts keeps the last cross products for the
	// report.
	DebugCrossProducts bool
	// ReportTolerance is the gradient report tolerance,
	// hmc.Tolerance if zero.
	ReportTolerance float64
}

// rule converts cross products into the gradient of a particular
// parametrization. d and q are row-major stateCount² matrices.
type rule interface {
	// normalization computes the constant shared by all the
	// coordinates.
	normalization(d, q []float64, normalize bool) float64
	// coordinate computes a single gradient coordinate.
	coordinate(k int, d, q, pi []float64, normalize bool, c float64) float64
}

// Kernel is a gradient provider for a substitution model parameter.
// It is safe for concurrent use.
type Kernel struct {
	likelihood  TreeLikelihood
	tree        *tree.Tree
	branchModel branchmodel.BranchModel
	model       substmodel.Model
	parameter   *inference.Parameter
	rule        rule
	opts        Options
	stateCount  int
	trait       treelh.TreeTrait

	mu              sync.Mutex
	whichInstance   int
	instanceCount   int
	accumulationMap []int
	mapVersion      uint64
	mapStale        bool

	gradientCount      int
	totalTime          time.Duration
	savedDifferentials []float64
}

// newKernel creates the shared part of the gradient kernels.
func newKernel(traitName string, lik TreeLikelihood, model substmodel.Model,
	par *inference.Parameter, r rule, opts Options) (*Kernel, error) {
	k := &Kernel{
		likelihood:  lik,
		tree:        lik.Tree(),
		branchModel: lik.BranchModel(),
		model:       model,
		parameter:   par,
		rule:        r,
		opts:        opts,
		stateCount:  model.DataType().StateCount(),
	}

	k.mu.Lock()
	err := k.updateAccumulationMap()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if opts.AffineCorrection && k.instanceCount > 1 {
		return nil, fmt.Errorf("%w: affine correction with %d model instances",
			ErrNotImplemented, k.instanceCount)
	}

	name := treelh.CrossProductTraitName(traitName)
	if lik.TreeTrait(name) == nil {
		if tdl, ok := lik.(*treelh.TreeDataLikelihood); ok {
			if err := tdl.AddTraits(treelh.NewCrossProductDelegate(traitName, tdl)); err != nil {
				return nil, err
			}
		}
	}
	k.trait = lik.TreeTrait(name)
	if k.trait == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingTrait, name)
	}

	k.branchModel.AddListener(func(branchmodel.BranchModel) {
		k.mu.Lock()
		k.mapStale = true
		k.mu.Unlock()
	})
	return k, nil
}

// updateAccumulationMap finds the instances of the target model. It
// should be called with the mutex locked.
func (k *Kernel) updateAccumulationMap() error {
	version := k.branchModel.Version()
	models := k.branchModel.SubstitutionModels()
	k.whichInstance = -1
	k.instanceCount = len(models)
	k.accumulationMap = k.accumulationMap[:0]
	for i, m := range models {
		if m == k.model {
			if k.whichInstance < 0 {
				k.whichInstance = i
			}
			if len(models) > 1 {
				k.accumulationMap = append(k.accumulationMap, i)
			}
		}
	}
	k.mapVersion = version
	k.mapStale = false
	if k.whichInstance < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownModel, k.model.Name())
	}
	if k.instanceCount > 1 {
		log.Debugf("Updating cross product accumulation map for %s: %v",
			k.parameter.Name(), k.accumulationMap)
	}
	return nil
}

// Likelihood returns the tree likelihood.
func (k *Kernel) Likelihood() inference.Likelihood {
	return k.likelihood
}

// Parameter returns the parameter the gradient is computed for.
func (k *Kernel) Parameter() *inference.Parameter {
	return k.parameter
}

// Dimension returns the parameter dimension.
func (k *Kernel) Dimension() int {
	return k.parameter.Dimension()
}

// HighestOrder returns hmc.Gradient.
func (k *Kernel) HighestOrder() hmc.DerivativeOrder {
	return hmc.Gradient
}

// DerivativeLogDensity supports only the gradient.
func (k *Kernel) DerivativeLogDensity(order hmc.DerivativeOrder) ([]float64, error) {
	if order != hmc.Gradient {
		return nil, fmt.Errorf("%w: %v for %s", hmc.ErrUnsupportedOrder, order, k.parameter.Name())
	}
	return k.GradientLogDensity()
}

// WhichInstance returns the first instance of the target model.
func (k *Kernel) WhichInstance() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.whichInstance
}

// InstanceCount returns the number of model instances of the branch
// model.
func (k *Kernel) InstanceCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.instanceCount
}

// AccumulationMap returns the instances whose cross products are
// summed. It is empty for a single instance.
func (k *Kernel) AccumulationMap() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.accumulationMap...)
}

// GradientLogDensity computes the gradient.
func (k *Kernel) GradientLogDensity() ([]float64, error) {
	var start time.Time
	if k.opts.CountOperations {
		start = time.Now()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.mapStale || k.mapVersion != k.branchModel.Version() {
		if err := k.updateAccumulationMap(); err != nil {
			return nil, err
		}
		if k.opts.AffineCorrection && k.instanceCount > 1 {
			return nil, fmt.Errorf("%w: affine correction with %d model instances",
				ErrNotImplemented, k.instanceCount)
		}
	}

	d, err := k.trait.Trait(k.tree, nil)
	if err != nil {
		return nil, err
	}
	n2 := k.stateCount * k.stateCount
	expLength := n2
	if k.instanceCount > 1 {
		expLength *= k.instanceCount
	}
	if len(d) != expLength {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrTraitLength, len(d), expLength)
	}

	if k.instanceCount > 1 {
		d = k.accumulate(d)
	} else {
		d = append([]float64(nil), d...)
	}

	q := make([]float64, n2)
	k.model.InfinitesimalMatrix(q)

	if k.opts.AffineCorrection {
		if err := k.correctDifferentials(d, q); err != nil {
			return nil, err
		}
	}
	if k.opts.DebugCrossProducts {
		k.savedDifferentials = append(k.savedDifferentials[:0], d...)
	}

	pi := k.model.Frequencies()
	normalize := k.model.Normalization()
	c := k.rule.normalization(d, q, normalize)

	gradient := make([]float64, k.parameter.Dimension())
	for i := range gradient {
		gradient[i] = k.rule.coordinate(i, d, q, pi, normalize, c)
	}

	if k.opts.CountOperations {
		k.gradientCount++
		k.totalTime += time.Since(start)
	}
	return gradient, nil
}

// accumulate sums the cross product blocks of the target model
// instances.
func (k *Kernel) accumulate(d []float64) []float64 {
	n2 := k.stateCount * k.stateCount
	acc := make([]float64, n2)
	for i, inst := range k.accumulationMap {
		block := d[inst*n2 : (inst+1)*n2]
		if i == 0 {
			copy(acc, block)
			continue
		}
		blas64.Axpy(n2, 1,
			blas64.Vector{Inc: 1, Data: block},
			blas64.Vector{Inc: 1, Data: acc})
	}
	return acc
}

// Report compares the gradient with the numeric one and prints the
// optional diagnostics.
func (k *Kernel) Report() string {
	tol := k.opts.ReportTolerance
	if tol == 0 {
		tol = hmc.Tolerance
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "substitutionModelGradient.%s\n", k.parameter.Name())
	b.WriteString(hmc.GradientReport(k, math.Inf(-1), math.Inf(+1), tol))

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.opts.DebugCrossProducts && k.savedDifferentials != nil {
		fmt.Fprintf(&b, "differentials: %v\n", k.savedDifferentials)
	}
	if k.opts.CountOperations {
		fmt.Fprintf(&b, "Gradient count: %d\n", k.gradientCount)
		fmt.Fprintf(&b, "Total time: %v\n", k.totalTime)
	}
	return b.String()
}
