package mcts

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

func TestExpand_CreatesChildPerLegalAction(t *testing.T) {
	n := NewNode(game.NewGameState())
	require.NoError(t, n.Expand())
	require.Len(t, n.Children, game.NumCells)
	for i, child := range n.Children {
		require.NotNil(t, child.Action)
		assert.Equal(t, i, child.Action.Index)
		assert.Equal(t, game.X, child.State.Cell(i))
		assert.Equal(t, game.O, child.State.NextSymbol())
	}
	// The parent state must not be touched by expansion.
	assert.Equal(t, *game.NewGameState(), n.State)
}

func TestExpand_UsageErrors(t *testing.T) {
	n := NewNode(game.NewGameState())
	require.NoError(t, n.Expand())
	err := n.Expand()
	var usage *SearchUsageError
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, "node is already expanded", usage.Msg)

	terminal := game.NewGameState()
	terminal[game.ResultIndex] = byte(game.Draw)
	err = NewNode(terminal).Expand()
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, "expanding node with no legal actions", usage.Msg)
}

func TestSynchronize_MatchPromotesChild(t *testing.T) {
	m := NewUCT(game.NewGameState(), Config{Simulations: 400, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(3)))
	require.NoError(t, m.Run(context.Background()))

	next, err := rules.NextState(game.NewGameState(), game.Action{Symbol: game.X, Index: 40}, true)
	require.NoError(t, err)

	var want *Node
	for _, child := range m.Tree().Root.Children {
		if child.Action.Index == 40 {
			want = child
		}
	}
	require.NotNil(t, want)
	visits := want.VisitCount
	require.Greater(t, visits, 0)

	m.Synchronize(next)
	assert.Same(t, want, m.Tree().Root)
	assert.Equal(t, visits, m.Tree().Root.VisitCount)
	assert.Nil(t, m.Tree().Root.Action)
}

func TestSynchronize_MismatchStartsFreshTree(t *testing.T) {
	m := NewUCT(game.NewGameState(), Config{Simulations: 50, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(3)))
	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, 50, m.Tree().Root.VisitCount)

	// Two plies ahead: no child of the root can match.
	s := game.NewGameState()
	require.NoError(t, rules.Apply(s, game.Action{Symbol: game.X, Index: 40}, true))
	require.NoError(t, rules.Apply(s, game.Action{Symbol: game.O, Index: 36}, true))

	m.Synchronize(s)
	root := m.Tree().Root
	assert.Equal(t, 0, root.VisitCount)
	assert.True(t, root.IsLeaf())
	assert.Equal(t, *s, root.State)
	assert.Equal(t, 1, m.Tree().Size())
	assert.Equal(t, 0, m.Tree().Height())

	// The tree holds its own copy.
	s[0] = byte(game.X)
	assert.Equal(t, game.Empty, root.State.Cell(0))
}

func TestSynchronize_UnexpandedRoot(t *testing.T) {
	tree := NewTree(game.NewGameState())
	next, err := rules.NextState(game.NewGameState(), game.Action{Symbol: game.X, Index: 0}, true)
	require.NoError(t, err)
	tree.Synchronize(next)
	assert.Equal(t, 0, tree.Root.VisitCount)
	assert.Equal(t, *next, tree.Root.State)
}

func TestTree_SizeAndHeight(t *testing.T) {
	tree := NewTree(game.NewGameState())
	require.NoError(t, tree.Root.Expand())
	require.NoError(t, tree.Root.Children[40].Expand())
	// 1 root + 81 children + 8 grandchildren inside sub-board 4.
	assert.Equal(t, 1+81+8, tree.Size())
	assert.Equal(t, 2, tree.Height())
}

func TestSelectChild_TieBreakIsUniform(t *testing.T) {
	n := NewNode(game.NewGameState())
	require.NoError(t, n.Expand())

	// Three children share the top score, the rest score lower.
	top := map[int]bool{3: true, 40: true, 77: true}
	score := func(child *Node) float64 {
		if top[child.Action.Index] {
			return 1
		}
		return 0
	}

	rng := rand.New(rand.NewSource(42))
	const draws = 30000
	counts := map[int]int{}
	for i := 0; i < draws; i++ {
		counts[selectChild(n, rng, score).Action.Index]++
	}
	require.Len(t, counts, len(top))
	for idx := range top {
		frac := float64(counts[idx]) / draws
		assert.InDelta(t, 1.0/3, frac, 0.02, "child %d chosen %d times", idx, counts[idx])
	}
}

func TestSelectChild_UniqueMaxSkipsRng(t *testing.T) {
	n := NewNode(game.NewGameState())
	require.NoError(t, n.Expand())
	score := func(child *Node) float64 { return float64(child.Action.Index) }
	got := selectChild(n, nil, score)
	assert.Equal(t, 80, got.Action.Index)
}
