package mcts

import (
	"fmt"
	"math/rand"

	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

// SearchUsageError reports an operation invoked on a node in the wrong phase,
// e.g. expanding an expanded node or reading statistics before any visit.
type SearchUsageError struct {
	Op  string
	Msg string
}

func (e *SearchUsageError) Error() string {
	return fmt.Sprintf("mcts %s: %s", e.Op, e.Msg)
}

// Node is a position in the search tree. Children are owned by their parent;
// promoting a child to root drops every sibling.
type Node struct {
	State game.GameState
	// Action led from the parent into this node. Nil for the root.
	Action   *game.Action
	Children []*Node

	VisitCount int

	// Rollout statistics.
	XWins int
	OWins int
	Draws int

	// Value statistics, from the perspective of the player to move at this node.
	PriorProb  float64
	StateValue float64
	ValueSum   float64
	ValueMean  float64
}

// NewNode creates a root node holding a copy of state.
func NewNode(state *game.GameState) *Node {
	return &Node{State: *state}
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *Node) IsTerminal() bool {
	return n.State.IsTerminated()
}

// Expand creates one child per legal action.
func (n *Node) Expand() error {
	if !n.IsLeaf() {
		return &SearchUsageError{Op: "expand", Msg: "node is already expanded"}
	}
	actions := rules.LegalActions(&n.State)
	if len(actions) == 0 {
		return &SearchUsageError{Op: "expand", Msg: "expanding node with no legal actions"}
	}
	n.Children = make([]*Node, len(actions))
	for i := range actions {
		child := &Node{State: n.State, Action: &actions[i]}
		// Legal actions cannot fail unverified application.
		_ = rules.Apply(&child.State, actions[i], false)
		n.Children[i] = child
	}
	return nil
}

// selectChild returns the child with the highest score, choosing uniformly
// among children tied at the maximum.
func selectChild(n *Node, rng *rand.Rand, score func(child *Node) float64) *Node {
	best := make([]*Node, 0, 4)
	top := 0.0
	for _, child := range n.Children {
		s := score(child)
		switch {
		case len(best) == 0 || s > top:
			top = s
			best = append(best[:0], child)
		case s == top:
			best = append(best, child)
		}
	}
	if len(best) == 1 {
		return best[0]
	}
	return best[rng.Intn(len(best))]
}

// selectPath descends from the root to a leaf and returns every node visited.
func selectPath(root *Node, rng *rand.Rand, score func(parent, child *Node) float64) []*Node {
	path := make([]*Node, 0, 16)
	node := root
	for !node.IsLeaf() {
		path = append(path, node)
		parent := node
		node = selectChild(parent, rng, func(child *Node) float64 { return score(parent, child) })
	}
	return append(path, node)
}

// Tree holds the current root. It is reused across plies via Synchronize.
type Tree struct {
	Root *Node
}

func NewTree(state *game.GameState) *Tree {
	return &Tree{Root: NewNode(state)}
}

// Synchronize moves the root to the child matching state, keeping its
// statistics, or starts a fresh tree when no child matches.
func (t *Tree) Synchronize(state *game.GameState) {
	for _, child := range t.Root.Children {
		if child.State == *state {
			child.Action = nil
			t.Root = child
			return
		}
	}
	t.Root = NewNode(state)
}

// Size counts the nodes reachable from the root.
func (t *Tree) Size() int {
	count := 0
	queue := []*Node{t.Root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		count++
		queue = append(queue, n.Children...)
	}
	return count
}

// Height is the depth of the deepest node, the root being depth 0.
func (t *Tree) Height() int {
	return height(t.Root)
}

func height(n *Node) int {
	h := 0
	for _, child := range n.Children {
		if d := height(child) + 1; d > h {
			h = d
		}
	}
	return h
}
