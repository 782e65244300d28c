// Package substmodel implements continuous-time substitution models
// over a discrete state alphabet.
//
// A model is parametrized by a vector of non-negative rates, one per
// off-diagonal cell of the generator. The generator is
//
//	Q[i,j] = r[i,j]·π[j] / μ,  Q[i,i] = -Σ_j Q[i,j],
//
// where μ = -Σ_i π[i]·R[i,i] is the expected substitution rate of the
// unnormalized matrix R. Models without normalization use μ = 1.
package substmodel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gonum/matrix/mat64"
	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/inference"
)

var log = logging.MustGetLogger("substmodel")

// SmallScale is a small value such that if the expected rate is less
// than it, the generator is replaced by a zero matrix.
const SmallScale = 1e-30

var (
	// ErrDimension is returned when a parameter has a wrong number
	// of values.
	ErrDimension = errors.New("wrong parameter dimension")
	// ErrFrequencies is returned for frequencies which are negative
	// or don't sum to one.
	ErrFrequencies = errors.New("invalid frequencies")
)

// Model is a substitution model.
type Model interface {
	// Name returns the model name.
	Name() string
	// DataType returns the state alphabet.
	DataType() *bio.DataType
	// Generator returns the current generator. It must not be
	// modified.
	Generator() *mat64.Dense
	// InfinitesimalMatrix writes the generator row-major to out.
	InfinitesimalMatrix(out []float64)
	// Frequencies returns the equilibrium frequencies.
	Frequencies() []float64
	// Normalization returns true if the generator is scaled to
	// the expected rate of one.
	Normalization() bool
	// Version is incremented on every change of the model
	// parameters.
	Version() uint64
	// AddListener registers a function called after a change.
	AddListener(func(Model))
}

// RateLayout returns the cells of the rate vector for a matrix with
// n states: first the upper triangle row by row, then the lower
// triangle column by column. Cell k is (RateLayout(n)[k][0],
// RateLayout(n)[k][1]).
func RateLayout(n int) [][2]int {
	layout := make([][2]int, 0, n*(n-1))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			layout = append(layout, [2]int{i, j})
		}
	}
	for j := 0; j < n; j++ {
		for i := j + 1; i < n; i++ {
			layout = append(layout, [2]int{i, j})
		}
	}
	return layout
}

// generator contains the code shared by the models: caching of the
// generator, versioning and listeners. rateFunc returns unnormalized
// rates in the RateLayout order.
type generator struct {
	name      string
	freq      *FrequencyModel
	normalize bool
	layout    [][2]int
	rateFunc  func() []float64
	self      Model

	mu        sync.Mutex
	dirty     bool
	q         *mat64.Dense
	scale     float64
	version   uint64
	listeners []func(Model)
}

func newGenerator(name string, freq *FrequencyModel, normalize bool, rateFunc func() []float64) *generator {
	n := freq.DataType().StateCount()
	g := &generator{
		name:      name,
		freq:      freq,
		normalize: normalize,
		layout:    RateLayout(n),
		rateFunc:  rateFunc,
		dirty:     true,
		q:         mat64.NewDense(n, n, nil),
	}
	freq.Parameter().AddListener(g.parameterChanged)
	return g
}

func (g *generator) parameterChanged(*inference.Parameter, int) {
	g.mu.Lock()
	g.dirty = true
	g.version++
	listeners := g.listeners
	g.mu.Unlock()
	for _, f := range listeners {
		f(g.self)
	}
}

// Name returns the model name.
func (g *generator) Name() string {
	return g.name
}

// DataType returns the state alphabet.
func (g *generator) DataType() *bio.DataType {
	return g.freq.DataType()
}

// FrequencyModel returns the frequency model.
func (g *generator) FrequencyModel() *FrequencyModel {
	return g.freq
}

// Frequencies returns the equilibrium frequencies.
func (g *generator) Frequencies() []float64 {
	return g.freq.Frequencies()
}

// Normalization returns true if the generator is normalized.
func (g *generator) Normalization() bool {
	return g.normalize
}

// Version returns the model version.
func (g *generator) Version() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

// AddListener registers a function called after every parameter
// change.
func (g *generator) AddListener(f func(Model)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, f)
}

// Generator returns the current generator.
func (g *generator) Generator() *mat64.Dense {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update()
	return g.q
}

// Scale returns the expected rate of the unnormalized matrix.
func (g *generator) Scale() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update()
	return g.scale
}

// InfinitesimalMatrix writes the generator row-major to out.
func (g *generator) InfinitesimalMatrix(out []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update()
	n, _ := g.q.Dims()
	if len(out) != n*n {
		panic(fmt.Sprintf("incorrect matrix buffer length %d, expected %d", len(out), n*n))
	}
	for i := 0; i < n; i++ {
		copy(out[i*n:(i+1)*n], g.q.RawRowView(i))
	}
}

// update recomputes the generator. It should be called with the
// mutex locked.
func (g *generator) update() {
	if !g.dirty {
		return
	}
	n, _ := g.q.Dims()
	r := g.rateFunc()
	pi := g.freq.Frequencies()

	q := mat64.NewDense(n, n, nil)
	for k, c := range g.layout {
		q.Set(c[0], c[1], r[k]*pi[c[1]])
	}
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			if i != j {
				rowSum += q.At(i, j)
			}
		}
		q.Set(i, i, -rowSum)
	}
	scale := 0.0
	for i := 0; i < n; i++ {
		scale -= pi[i] * q.At(i, i)
	}

	g.scale = scale
	if g.normalize {
		if scale < SmallScale {
			log.Debugf("%s: expected rate %g is too small, using zero generator", g.name, scale)
			q = mat64.NewDense(n, n, nil)
		} else {
			q.Scale(1/scale, q)
		}
	}
	g.q = q
	g.dirty = false
}

// rateDerivative returns ∂Q[i,j]/∂r[i,j] at fixed normalization.
func (g *generator) rateDerivative(i, j int) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update()
	pi := g.freq.Frequencies()
	if !g.normalize {
		return pi[j]
	}
	if g.scale < SmallScale {
		return 0
	}
	return pi[j] / g.scale
}
