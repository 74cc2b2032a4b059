package calltree

import (
	"sort"

	"github.com/perfreport/perfreport/internal/capture"
)

type (
	// Node is one call-path position. Self is the weight of samples whose
	// leaf frame is this node, Subtree is Self plus the Subtree of every
	// child.
	Node struct {
		FuncID   int
		Self     uint64
		Subtree  uint64
		Children []*Node
	}

	// Tree is the call graph of one thread bucket. Root is synthetic: its
	// children are the observed root frames and its Subtree equals the
	// thread's event count.
	Tree struct {
		Root *Node
	}
)

func New() *Tree {
	return &Tree{Root: &Node{FuncID: -1}}
}

// AddChain merges one root-to-leaf call chain into the tree, adding weight
// to the subtree count of every node on the path and to the self count of
// the leaf. An empty chain only adds weight to the synthetic root.
func (t *Tree) AddChain(chain []capture.Frame, weight uint64) {
	node := t.Root
	node.Subtree += weight
	for i := range chain {
		node = node.child(chain[i].FuncID)
		node.Subtree += weight
	}
	node.Self += weight
}

func (n *Node) child(funcID int) *Node {
	for _, c := range n.Children {
		if c.FuncID == funcID {
			return c
		}
	}
	c := &Node{FuncID: funcID}
	n.Children = append(n.Children, c)
	return c
}

// SortRoots orders the children of the synthetic root by function display
// name, ascending, with the function id as the tie breaker. This is the
// canonical output order and is independent of sample arrival order.
// Deeper levels keep encounter order, which is already deterministic for
// identical input.
func (t *Tree) SortRoots(displayName func(funcID int) string) {
	sort.SliceStable(t.Root.Children, func(i, j int) bool {
		a, b := t.Root.Children[i], t.Root.Children[j]
		an, bn := displayName(a.FuncID), displayName(b.FuncID)
		if an != bn {
			return an < bn
		}
		return a.FuncID < b.FuncID
	})
}

// Walk visits every node of the tree in depth-first order, synthetic root
// included.
func (t *Tree) Walk(visit func(n *Node)) {
	var walk func(n *Node)
	walk = func(n *Node) {
		visit(n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
}
