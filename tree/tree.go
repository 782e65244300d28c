// Package tree implements a rooted phylogenetic tree with branch
// lengths and branch classes, parsed from Newick.
package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type mode int

const (
	normal mode = iota
	length
	class
)

// Tree is a rooted tree. Node ids are assigned in the Newick order,
// root has id 0.
type Tree struct {
	*Node
	nodes     []*Node
	postOrder []*Node
	leaves    map[string]*Node
}

// ClearCache drops cached node lists. It has to be called after
// changing the topology.
func (tree *Tree) ClearCache() {
	tree.nodes = nil
	tree.postOrder = nil
	tree.leaves = nil
}

// NNodes returns number of nodes including the root.
func (tree *Tree) NNodes() int {
	return len(tree.Nodes())
}

// Nodes returns nodes indexed by their id.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NSubNodes())
		tree.Walk(func(node *Node) {
			tree.nodes[node.Id] = node
		})
	}
	return tree.nodes
}

// PostOrder returns every node, children before their parent. The
// root is the last node.
func (tree *Tree) PostOrder() []*Node {
	if tree.postOrder == nil {
		tree.postOrder = make([]*Node, 0, tree.NNodes())
		var visit func(*Node)
		visit = func(node *Node) {
			for _, child := range node.childNodes {
				visit(child)
			}
			tree.postOrder = append(tree.postOrder, node)
		}
		visit(tree.Node)
	}
	return tree.postOrder
}

// Terminals returns leaves in the Newick order.
func (tree *Tree) Terminals() (leaves []*Node) {
	for _, node := range tree.Nodes() {
		if node.IsTerminal() {
			leaves = append(leaves, node)
		}
	}
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].LeafId < leaves[j].LeafId
	})
	return
}

// NLeaves returns number of terminal nodes.
func (tree *Tree) NLeaves() int {
	return len(tree.Terminals())
}

// Leaf returns a leaf by name or nil.
func (tree *Tree) Leaf(name string) *Node {
	if tree.leaves == nil {
		tree.leaves = make(map[string]*Node)
		for _, node := range tree.Terminals() {
			tree.leaves[node.Name] = node
		}
	}
	return tree.leaves[name]
}

// ClassNodes returns non-root nodes with a given branch class.
func (tree *Tree) ClassNodes(class int) (nodes []*Node) {
	for _, node := range tree.Nodes() {
		if !node.IsRoot() && node.Class == class {
			nodes = append(nodes, node)
		}
	}
	return
}

// Classes returns sorted distinct branch classes. The root branch is
// ignored.
func (tree *Tree) Classes() (classes []int) {
	seen := make(map[int]bool)
	for _, node := range tree.Nodes() {
		if node.IsRoot() || seen[node.Class] {
			continue
		}
		seen[node.Class] = true
		classes = append(classes, node.Class)
	}
	sort.Ints(classes)
	return
}

// Copy creates independent copy of the tree.
func (tree *Tree) Copy() *Tree {
	nodes := tree.Nodes()
	newNodes := make([]*Node, len(nodes))
	for i, node := range nodes {
		if i != node.Id {
			panic("node id mismatch")
		}
		newNodes[i] = node.Copy()
	}
	for i, node := range nodes {
		for _, child := range node.childNodes {
			newNodes[i].AddChild(newNodes[child.Id])
		}
	}
	return &Tree{Node: newNodes[0], nodes: newNodes}
}

// Node is a tree node. The branch length and the class describe the
// branch leading to the node.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	Id           int
	LeafId       int
	Class        int
}

// NewNode creates a node with a given id.
func NewNode(parent *Node, nodeId int) *Node {
	return &Node{Parent: parent, Id: nodeId}
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		Id:           node.Id,
		LeafId:       node.LeafId,
		Class:        node.Class,
	}
}

// AddChild attaches a subnode.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// ChildNodes returns children of the node.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk calls f for the node and all the subnodes in pre-order.
func (node *Node) Walk(f func(*Node)) {
	f(node)
	for _, child := range node.childNodes {
		child.Walk(f)
	}
}

// NSubNodes returns size of the subtree.
func (node *Node) NSubNodes() (size int) {
	for _, child := range node.childNodes {
		size += child.NSubNodes()
	}
	return size + 1
}

func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// String returns Newick representation with classes.
func (node *Node) String() string {
	var b strings.Builder
	node.newick(&b)
	if node.IsRoot() {
		b.WriteByte(';')
	}
	return b.String()
}

func (node *Node) newick(b *strings.Builder) {
	if !node.IsTerminal() {
		b.WriteByte('(')
		for i, child := range node.childNodes {
			if i != 0 {
				b.WriteByte(',')
			}
			child.newick(b)
		}
		b.WriteByte(')')
	}
	b.WriteString(node.Name)
	if node.Class != 0 {
		fmt.Fprintf(b, "#%d", node.Class)
	}
	fmt.Fprintf(b, ":%0.6f", node.BranchLength)
}

// LongString returns a verbose node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("Id=%v, BranchLength=%v", node.Id, node.BranchLength)
	if node.IsTerminal() {
		s += fmt.Sprintf(", TipId=%v", node.LeafId)
	}
	if node.Class != 0 {
		s += fmt.Sprintf(", Class=%v", node.Class)
	}
	s += ">"
	return
}

func isSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false
}

// NewickSplit is a bufio.SplitFunc returning Newick tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if isSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || isSpecial(r) {
			return i, data[start:i], nil
		}
	}
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick reads a single tree. Branch classes are written as
// #k after the node label.
func ParseNewick(rd io.Reader) (*Tree, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(NewickSplit)

	nodeId := 0

	node := NewNode(nil, nodeId)
	tree := &Tree{Node: node}
	nodeId++

	m := normal
	depth := 0

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			subNode := NewNode(nil, nodeId)
			nodeId++
			node.AddChild(subNode)
			node = subNode
			depth++
		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := NewNode(nil, nodeId)
			nodeId++
			node.Parent.AddChild(subNode)
			node = subNode
		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
			depth--
		case "#":
			m = class
		case ":":
			m = length
		case ";":
			if depth != 0 {
				return nil, errors.New("brackets mismatch")
			}
			assignLeafIds(tree)
			return tree, nil
		default:
			switch m {
			case length:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				node.BranchLength = l
			case class:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, err
				}
				node.Class = int(cl)
			default:
				node.Name = text
			}
			m = normal
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("tree is not terminated by ';'")
}

// leaf ids are assigned after parsing so internal labels don't shift
// them.
func assignLeafIds(tree *Tree) {
	id := 0
	tree.Walk(func(node *Node) {
		if node.IsTerminal() {
			node.LeafId = id
			id++
		}
	})
}
