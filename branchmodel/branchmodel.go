// Package branchmodel assigns substitution model instances to the
// branches of a tree.
package branchmodel

import (
	"fmt"
	"sync"

	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
)

var log = logging.MustGetLogger("branchmodel")

// BranchModel is an ordered list of substitution model instances and
// an assignment of instances to branches. The same model may occur at
// several positions of the list.
type BranchModel interface {
	// SubstitutionModels returns the instances in the branch model
	// order.
	SubstitutionModels() []substmodel.Model
	// Assignment returns the instance index for the branch leading
	// to the node.
	Assignment(node *tree.Node) int
	// Version is incremented on every structural change.
	Version() uint64
	// AddListener registers a function called after a structural
	// change.
	AddListener(func(BranchModel))
}

// Homogeneous uses a single model on every branch.
type Homogeneous struct {
	model substmodel.Model
}

// NewHomogeneous creates a homogeneous branch model.
func NewHomogeneous(m substmodel.Model) *Homogeneous {
	return &Homogeneous{model: m}
}

// SubstitutionModels returns the single instance.
func (h *Homogeneous) SubstitutionModels() []substmodel.Model {
	return []substmodel.Model{h.model}
}

// Assignment always returns 0.
func (h *Homogeneous) Assignment(*tree.Node) int {
	return 0
}

// Version is always 0, the structure never changes.
func (h *Homogeneous) Version() uint64 {
	return 0
}

// AddListener does nothing.
func (h *Homogeneous) AddListener(func(BranchModel)) {}

// Class has an instance per branch class (the #k Newick label).
type Class struct {
	mu        sync.RWMutex
	classes   []int
	models    []substmodel.Model
	version   uint64
	listeners []func(BranchModel)
}

// NewClass creates a branch model where branches of classes[k] use
// models[k].
func NewClass(classes []int, models []substmodel.Model) (*Class, error) {
	if len(classes) != len(models) {
		return nil, fmt.Errorf("%d classes and %d models", len(classes), len(models))
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no branch classes")
	}
	seen := make(map[int]bool, len(classes))
	for i, cl := range classes {
		if seen[cl] {
			return nil, fmt.Errorf("duplicate branch class %d", cl)
		}
		seen[cl] = true
		if models[i] == nil {
			return nil, fmt.Errorf("no model for branch class %d", cl)
		}
	}
	return &Class{
		classes: append([]int(nil), classes...),
		models:  append([]substmodel.Model(nil), models...),
	}, nil
}

// Classes returns the branch classes in the instance order.
func (c *Class) Classes() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]int(nil), c.classes...)
}

// SubstitutionModels returns a copy of the instance list.
func (c *Class) SubstitutionModels() []substmodel.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]substmodel.Model(nil), c.models...)
}

// Assignment returns the instance of the node class or -1.
func (c *Class) Assignment(node *tree.Node) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, cl := range c.classes {
		if cl == node.Class {
			return i
		}
	}
	return -1
}

// Check returns an error if a branch of the tree has no instance.
func (c *Class) Check(t *tree.Tree) error {
	for _, node := range t.Nodes() {
		if !node.IsRoot() && c.Assignment(node) < 0 {
			return fmt.Errorf("no model for branch class %d (node %d)", node.Class, node.Id)
		}
	}
	return nil
}

// SetModel replaces the model used for a branch class. This is a
// structural change.
func (c *Class) SetModel(class int, m substmodel.Model) error {
	c.mu.Lock()
	i := -1
	for j, cl := range c.classes {
		if cl == class {
			i = j
		}
	}
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("unknown branch class %d", class)
	}
	c.models[i] = m
	c.version++
	listeners := c.listeners
	c.mu.Unlock()

	log.Debugf("Branch class %d now uses model %s", class, m.Name())
	for _, f := range listeners {
		f(c)
	}
	return nil
}

// Version returns the structure version.
func (c *Class) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// AddListener registers a function called after SetModel.
func (c *Class) AddListener(f func(BranchModel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, f)
}
