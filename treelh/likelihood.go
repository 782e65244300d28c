// Package treelh computes the likelihood of aligned sequences on a
// tree and exposes per-tree quantities as named traits.
package treelh

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gonum/matrix/mat64"
	logging "github.com/op/go-logging"

	"bitbucket.org/Davydov/subgrad/bio"
	"bitbucket.org/Davydov/subgrad/branchmodel"
	"bitbucket.org/Davydov/subgrad/inference"
	"bitbucket.org/Davydov/subgrad/substmodel"
	"bitbucket.org/Davydov/subgrad/tree"
)

var log = logging.MustGetLogger("treelh")

var (
	// ErrUnknownTrait is returned for a trait which is not
	// registered.
	ErrUnknownTrait = errors.New("unknown tree trait")
	// ErrTaxonMismatch is returned when the tree leaves don't
	// match the alignment.
	ErrTaxonMismatch = errors.New("tree and alignment taxa differ")
)

// TreeDataLikelihood is the likelihood of site patterns on a tree
// under a branch model. Nothing is cached between evaluations.
type TreeDataLikelihood struct {
	id          string
	tree        *tree.Tree
	patterns    *bio.Patterns
	branchModel branchmodel.BranchModel
	stateCount  int
	// leafRow[node.Id] is the alignment row of a leaf
	leafRow []int

	mu     sync.RWMutex
	traits map[string]TreeTrait
	names  []string
}

// NewTreeDataLikelihood creates a new tree likelihood. Every leaf
// should have a sequence and every sequence should have a leaf.
func NewTreeDataLikelihood(id string, t *tree.Tree, p *bio.Patterns, bm branchmodel.BranchModel) (*TreeDataLikelihood, error) {
	if t.NLeaves() != len(p.Taxa) {
		return nil, fmt.Errorf("%w: %d leaves, %d sequences", ErrTaxonMismatch, t.NLeaves(), len(p.Taxa))
	}
	l := &TreeDataLikelihood{
		id:          id,
		tree:        t,
		patterns:    p,
		branchModel: bm,
		stateCount:  p.DataType.StateCount(),
		leafRow:     make([]int, t.NNodes()),
		traits:      make(map[string]TreeTrait),
	}
	for _, node := range t.Nodes() {
		l.leafRow[node.Id] = -1
		if !node.IsTerminal() {
			continue
		}
		row := p.TaxonIndex(node.Name)
		if row < 0 {
			return nil, fmt.Errorf("%w: no sequence for %s", ErrTaxonMismatch, node.Name)
		}
		l.leafRow[node.Id] = row
	}
	for _, m := range bm.SubstitutionModels() {
		if m.DataType().StateCount() != l.stateCount {
			return nil, fmt.Errorf("model %s has %d states, alignment has %d",
				m.Name(), m.DataType().StateCount(), l.stateCount)
		}
	}
	return l, nil
}

// ID returns the likelihood name.
func (l *TreeDataLikelihood) ID() string {
	return l.id
}

// Tree returns the tree.
func (l *TreeDataLikelihood) Tree() *tree.Tree {
	return l.tree
}

// Patterns returns the site patterns.
func (l *TreeDataLikelihood) Patterns() *bio.Patterns {
	return l.patterns
}

// BranchModel returns the branch model.
func (l *TreeDataLikelihood) BranchModel() branchmodel.BranchModel {
	return l.branchModel
}

// StateCount returns number of states.
func (l *TreeDataLikelihood) StateCount() int {
	return l.stateCount
}

// LikelihoodSet returns the likelihood itself.
func (l *TreeDataLikelihood) LikelihoodSet() []inference.Likelihood {
	return []inference.Likelihood{l}
}

// MakeDirty does nothing, every evaluation starts from scratch.
func (l *TreeDataLikelihood) MakeDirty() {}

// LogLikelihood computes the log-likelihood. Errors are logged and
// reported as NaN.
func (l *TreeDataLikelihood) LogLikelihood() float64 {
	pr, err := l.prune()
	if err != nil {
		log.Errorf("%s: %v", l.id, err)
		return math.NaN()
	}
	return pr.logL
}

// pruning stores partial likelihoods of a single evaluation. Vectors
// are indexed by node id and contain pattern-major state values.
type pruning struct {
	models   []substmodel.Model
	instance []int
	q        []*mat64.Dense
	p        []*mat64.Dense
	// post is the probability of the data below a node
	post [][]float64
	// down is post propagated to the top of the branch
	down [][]float64
	// above is the probability of the data not below a branch
	// jointly with the state at the top of the branch
	above [][]float64
	siteL []float64
	logL  float64
}

// transitions computes P = exp(Q·t) for every branch.
func (l *TreeDataLikelihood) transitions() (*pruning, error) {
	nn := l.tree.NNodes()
	pr := &pruning{
		models:   l.branchModel.SubstitutionModels(),
		instance: make([]int, nn),
		q:        make([]*mat64.Dense, nn),
		p:        make([]*mat64.Dense, nn),
	}
	for _, node := range l.tree.Nodes() {
		inst := l.branchModel.Assignment(node)
		if node.IsRoot() && (inst < 0 || inst >= len(pr.models)) {
			inst = 0
		}
		if inst < 0 || inst >= len(pr.models) {
			return nil, fmt.Errorf("no substitution model for branch %d (class %d)", node.Id, node.Class)
		}
		pr.instance[node.Id] = inst
		if node.IsRoot() {
			continue
		}
		q := pr.models[inst].Generator()
		pr.q[node.Id] = q

		var qt, p mat64.Dense
		qt.Scale(node.BranchLength, q)
		p.Exp(&qt)
		raw := p.RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			for j := range row {
				// Make sure there's no negative elements
				row[j] = math.Abs(row[j])
			}
		}
		pr.p[node.Id] = &p
	}
	return pr, nil
}

// prune computes post-order partials and the log-likelihood.
func (l *TreeDataLikelihood) prune() (*pruning, error) {
	pr, err := l.transitions()
	if err != nil {
		return nil, err
	}
	n := l.stateCount
	np := l.patterns.NPatterns()
	nn := l.tree.NNodes()
	pr.post = make([][]float64, nn)
	pr.down = make([][]float64, nn)

	for _, node := range l.tree.PostOrder() {
		post := make([]float64, np*n)
		if node.IsTerminal() {
			row := l.leafRow[node.Id]
			for pat := 0; pat < np; pat++ {
				s := l.patterns.Patterns[pat][row]
				for k := 0; k < n; k++ {
					if s == bio.NoState || s == k {
						post[pat*n+k] = 1
					}
				}
			}
		} else {
			for i := range post {
				post[i] = 1
			}
			for _, child := range node.ChildNodes() {
				d := pr.down[child.Id]
				for i := range post {
					post[i] *= d[i]
				}
			}
		}
		pr.post[node.Id] = post

		if node.IsRoot() {
			continue
		}
		pr.down[node.Id] = propagate(pr.p[node.Id], post, n, np)
	}

	root := l.tree.Node
	pi := pr.models[pr.instance[root.Id]].Frequencies()
	pr.siteL = make([]float64, np)
	post := pr.post[root.Id]
	for pat := 0; pat < np; pat++ {
		s := 0.0
		for k := 0; k < n; k++ {
			s += pi[k] * post[pat*n+k]
		}
		pr.siteL[pat] = s
		pr.logL += l.patterns.Weights[pat] * math.Log(s)
	}
	return pr, nil
}

// propagate returns P·x for every pattern.
func propagate(p *mat64.Dense, x []float64, n, np int) []float64 {
	res := make([]float64, len(x))
	for pat := 0; pat < np; pat++ {
		v := x[pat*n : (pat+1)*n]
		for i := 0; i < n; i++ {
			s := 0.0
			row := p.RawRowView(i)
			for j := 0; j < n; j++ {
				s += row[j] * v[j]
			}
			res[pat*n+i] = s
		}
	}
	return res
}

// preOrder computes the partials above every branch. It requires
// prune to be called first.
func (l *TreeDataLikelihood) preOrder(pr *pruning) {
	n := l.stateCount
	np := l.patterns.NPatterns()
	nn := l.tree.NNodes()
	pr.above = make([][]float64, nn)

	// pre is the probability of the data not below a node jointly
	// with the node state
	pre := make([][]float64, nn)
	root := l.tree.Node
	pi := pr.models[pr.instance[root.Id]].Frequencies()
	pre[root.Id] = make([]float64, np*n)
	for pat := 0; pat < np; pat++ {
		copy(pre[root.Id][pat*n:], pi)
	}

	post := l.tree.PostOrder()
	for i := len(post) - 1; i >= 0; i-- {
		node := post[i]
		for _, child := range node.ChildNodes() {
			a := append([]float64(nil), pre[node.Id]...)
			for _, sibling := range node.ChildNodes() {
				if sibling == child {
					continue
				}
				d := pr.down[sibling.Id]
				for j := range a {
					a[j] *= d[j]
				}
			}
			pr.above[child.Id] = a

			// pre[child] = Pᵀ·a
			pc := make([]float64, np*n)
			p := pr.p[child.Id]
			for pat := 0; pat < np; pat++ {
				for s := 0; s < n; s++ {
					as := a[pat*n+s]
					if as == 0 {
						continue
					}
					row := p.RawRowView(s)
					for k := 0; k < n; k++ {
						pc[pat*n+k] += as * row[k]
					}
				}
			}
			pre[child.Id] = pc
		}
	}
}
