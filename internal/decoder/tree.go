package decoder

import "github.com/dgallion1/lmrate/internal/scorer"

// NodeID is a handle into a Tree's arena.
type NodeID int

const (
	// Root is the handle of the start-of-document node.
	Root NodeID = 0
	// NoParent is the parent of the root.
	NoParent NodeID = -1
)

// Node is one hypothesis in the search tree. Its ancestry is recovered by
// following Parent handles back to the root.
type Node struct {
	Parent NodeID
	Symbol byte         // last byte consumed
	State  scorer.State // nil once the node has left the frontier
	Cost   float64      // cumulative -log2 probability from the root
	Depth  int          // alternatives consumed since the root
	Bytes  int          // bytes consumed by this node's alternative
	Step   int          // index of the step this node completed, -1 for the root
	Alt    int          // index of the chosen alternative within that step
}

// Tree is an append-only arena of nodes. Nodes are never moved, so handles
// stay valid for the lifetime of the tree and children share their
// ancestors.
type Tree struct {
	nodes []Node
}

// NewTree returns a tree holding only the root: seed symbol, the scorer's
// initial state, zero cost.
func NewTree(initial scorer.State) *Tree {
	return &Tree{nodes: []Node{{
		Parent: NoParent,
		Symbol: scorer.SeedSymbol,
		State:  initial,
		Step:   -1,
		Alt:    -1,
	}}}
}

// Add appends n and returns its handle.
func (t *Tree) Add(n Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Node returns a copy of the node at id.
func (t *Tree) Node(id NodeID) Node {
	return t.nodes[id]
}

// Len is the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Release drops the recurrent state held by id.
func (t *Tree) Release(id NodeID) {
	t.nodes[id].State = nil
}

// Sequence returns the path from the root to id, root first.
func (t *Tree) Sequence(id NodeID) []NodeID {
	var path []NodeID
	for cur := id; cur != NoParent; cur = t.nodes[cur].Parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
