package treelh

import (
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/subgrad/tree"
)

// crossProductPrefix is prepended to the trait name.
const crossProductPrefix = "substitution.cross.product."

// CrossProductTraitName returns the name under which the cross
// product trait is registered.
func CrossProductTraitName(name string) string {
	return crossProductPrefix + name
}

// CrossProductDelegate computes derivatives of the log-likelihood
// with respect to every generator cell. The trait is tree-wide and
// has a stateCount² block per substitution model instance of the
// branch model, blocks follow the instance order. A single instance
// yields a single block.
//
// For a branch with length t, above partial a and below partial b,
// the derivative of the site likelihood is
//
//	∫_0^t exp(Qᵀu)·a·bᵀ·exp(Qᵀ(t-u)) du,
//
// computed with the block matrix exponential.
type CrossProductDelegate struct {
	name       string
	likelihood *TreeDataLikelihood
}

// NewCrossProductDelegate creates a cross product trait for a
// likelihood. It has to be registered with AddTraits.
func NewCrossProductDelegate(name string, l *TreeDataLikelihood) *CrossProductDelegate {
	return &CrossProductDelegate{
		name:       CrossProductTraitName(name),
		likelihood: l,
	}
}

// Name returns the trait name.
func (d *CrossProductDelegate) Name() string {
	return d.name
}

// Trait computes the cross products. The node is ignored.
func (d *CrossProductDelegate) Trait(t *tree.Tree, _ *tree.Node) ([]float64, error) {
	l := d.likelihood
	if t != l.tree {
		return nil, fmt.Errorf("cross products requested for a foreign tree")
	}
	pr, err := l.prune()
	if err != nil {
		return nil, err
	}
	l.preOrder(pr)

	n := l.stateCount
	n2 := n * n
	np := l.patterns.NPatterns()
	res := make([]float64, n2*len(pr.models))

	for _, node := range t.Nodes() {
		if node.IsRoot() || node.BranchLength == 0 {
			continue
		}
		// C = Σ w·a·bᵀ/L
		c := mat64.NewDense(n, n, nil)
		a := pr.above[node.Id]
		b := pr.post[node.Id]
		for pat := 0; pat < np; pat++ {
			sl := pr.siteL[pat]
			if sl == 0 || math.IsNaN(sl) {
				continue
			}
			w := l.patterns.Weights[pat] / sl
			for k := 0; k < n; k++ {
				ak := a[pat*n+k] * w
				if ak == 0 {
					continue
				}
				row := c.RawRowView(k)
				for m := 0; m < n; m++ {
					row[m] += ak * b[pat*n+m]
				}
			}
		}

		br := node.BranchLength
		q := pr.q[node.Id]
		block := mat64.NewDense(2*n, 2*n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				block.Set(i, j, br*q.At(j, i))
				block.Set(n+i, n+j, br*q.At(j, i))
				block.Set(i, n+j, br*c.At(i, j))
			}
		}
		var e mat64.Dense
		e.Exp(block)

		off := pr.instance[node.Id] * n2
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				res[off+i*n+j] += e.At(i, n+j)
			}
		}
	}
	if len(pr.models) == 1 {
		return res[:n2], nil
	}
	return res, nil
}
