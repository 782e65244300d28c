package treelh

import (
	"fmt"

	"bitbucket.org/Davydov/subgrad/tree"
)

// TreeTrait is a named quantity computed on a tree.
type TreeTrait interface {
	// Name returns the registration name.
	Name() string
	// Trait computes the value for a node. Tree-wide traits
	// ignore the node, it may be nil.
	Trait(t *tree.Tree, node *tree.Node) ([]float64, error)
}

// TreeTrait returns a registered trait or nil.
func (l *TreeDataLikelihood) TreeTrait(name string) TreeTrait {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.traits[name]
}

// AddTraits registers traits. Registering a name twice is an error.
func (l *TreeDataLikelihood) AddTraits(traits ...TreeTrait) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range traits {
		if _, ok := l.traits[t.Name()]; ok {
			return fmt.Errorf("tree trait %s is already registered", t.Name())
		}
	}
	for _, t := range traits {
		log.Debugf("%s: registering tree trait %s", l.id, t.Name())
		l.traits[t.Name()] = t
		l.names = append(l.names, t.Name())
	}
	return nil
}

// TraitNames returns registered trait names in the registration
// order.
func (l *TreeDataLikelihood) TraitNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.names...)
}

// Trait evaluates a registered trait for a node.
func (l *TreeDataLikelihood) Trait(name string, node *tree.Node) ([]float64, error) {
	t := l.TreeTrait(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrait, name)
	}
	return t.Trait(l.tree, node)
}
