// Package inference provides parameters and likelihoods which are
// shared between models, priors and gradient providers.
package inference

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// ErrDimension is returned when a value vector doesn't match the
// parameter dimension.
var ErrDimension = errors.New("incorrect number of parameter values")

// Parameter is a named real-valued vector with optional
// per-coordinate bounds. Models register listeners to be notified
// when a value changes.
type Parameter struct {
	name   string
	values []float64
	min    []float64
	max    []float64

	mu        sync.RWMutex
	version   uint64
	listeners []func(*Parameter, int)
}

// NewParameter creates a new unbounded parameter. The values are
// copied.
func NewParameter(name string, values ...float64) *Parameter {
	p := &Parameter{
		name:   name,
		values: append([]float64(nil), values...),
		min:    make([]float64, len(values)),
		max:    make([]float64, len(values)),
	}
	for i := range values {
		p.min[i] = math.Inf(-1)
		p.max[i] = math.Inf(+1)
	}
	return p
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Dimension returns the number of coordinates.
func (p *Parameter) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// Value returns a single coordinate.
func (p *Parameter) Value(i int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[i]
}

// Values returns a copy of all the coordinates.
func (p *Parameter) Values() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.values...)
}

// Version is incremented every time any value changes.
func (p *Parameter) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// SetValue changes a single coordinate. Listeners are notified with
// the coordinate index.
func (p *Parameter) SetValue(i int, v float64) {
	p.mu.Lock()
	if p.values[i] == v {
		// do nothing if value has not changed
		p.mu.Unlock()
		return
	}
	p.values[i] = v
	p.version++
	p.mu.Unlock()
	p.fire(i)
}

// SetValues changes all the coordinates at once. Listeners are
// notified once with index -1.
func (p *Parameter) SetValues(v []float64) error {
	p.mu.Lock()
	if len(v) != len(p.values) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s has %d, got %d", ErrDimension, p.name, len(p.values), len(v))
	}
	copy(p.values, v)
	p.version++
	p.mu.Unlock()
	p.fire(-1)
	return nil
}

// SetBounds sets the same bounds for every coordinate.
func (p *Parameter) SetBounds(min, max float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.values {
		p.min[i] = min
		p.max[i] = max
	}
}

// Bounds returns lower and upper bound for a coordinate.
func (p *Parameter) Bounds(i int) (min, max float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.min[i], p.max[i]
}

// InRange returns true if all the values are inside the bounds.
func (p *Parameter) InRange() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, v := range p.values {
		if v < p.min[i] || v > p.max[i] {
			return false
		}
	}
	return true
}

// AddListener registers a function called after every change.
func (p *Parameter) AddListener(f func(*Parameter, int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, f)
}

func (p *Parameter) fire(i int) {
	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()
	for _, f := range listeners {
		f(p, i)
	}
}

// String returns tab-separated values.
func (p *Parameter) String() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := make([]string, len(p.values))
	for i, v := range p.values {
		s[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(s, "\t")
}
