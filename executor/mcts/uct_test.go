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

func checkRolloutCounts(t *testing.T, n *Node) {
	t.Helper()
	require.Equal(t, n.VisitCount, n.XWins+n.OWins+n.Draws, "node %v", n.Action)
	childVisits := 0
	for _, child := range n.Children {
		childVisits += child.VisitCount
		checkRolloutCounts(t, child)
	}
	if len(n.Children) > 0 && !n.IsTerminal() {
		// The visit that expanded the node did not descend into a child.
		require.Equal(t, n.VisitCount-1, childVisits)
	}
}

func TestUCT_RunReachesTarget(t *testing.T) {
	m := NewUCT(game.NewGameState(), Config{Simulations: 300, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(1)))
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 300, m.Tree().Root.VisitCount)
	checkRolloutCounts(t, m.Tree().Root)

	// Every child is tried once before any is tried twice.
	for _, child := range m.Tree().Root.Children {
		assert.GreaterOrEqual(t, child.VisitCount, 1)
	}

	// A second call with the same target has nothing left to do.
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 300, m.Tree().Root.VisitCount)
}

func TestUCT_SplitRunMatchesSingleRun(t *testing.T) {
	const total, first = 250, 97
	cfg := Config{Simulations: total, Cpuct: math.Sqrt2}

	whole := NewUCT(game.NewGameState(), cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, whole.Run(context.Background()))

	split := NewUCT(game.NewGameState(), Config{Simulations: first, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(7)))
	require.NoError(t, split.Run(context.Background()))
	require.Equal(t, first, split.Tree().Root.VisitCount)
	split.Config.Simulations = total
	require.NoError(t, split.Run(context.Background()))

	assert.Equal(t, whole.EvaluatedState(), split.EvaluatedState())
	wantActions, err := whole.EvaluatedActions()
	require.NoError(t, err)
	gotActions, err := split.EvaluatedActions()
	require.NoError(t, err)
	assert.Equal(t, wantActions, gotActions)
	assert.Equal(t, whole.Tree().Size(), split.Tree().Size())
}

func TestUCT_EvaluatedPerspective(t *testing.T) {
	m := NewUCT(game.NewGameState(), Config{Simulations: 200, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(5)))
	require.NoError(t, m.Run(context.Background()))

	root := m.Tree().Root
	st := m.EvaluatedState()
	// X is to move at the root.
	assert.Equal(t, root.XWins, st.Wins)
	assert.Equal(t, root.OWins, st.Losses)
	assert.Equal(t, root.Draws, st.Draws)
	assert.Equal(t, 200, st.VisitCount)

	actions, err := m.EvaluatedActions()
	require.NoError(t, err)
	require.Len(t, actions, len(root.Children))
	for i, a := range actions {
		child := root.Children[i]
		assert.Equal(t, *child.Action, a.Action)
		assert.Equal(t, child.XWins, a.Wins)
		assert.Equal(t, child.OWins, a.Losses)
	}

	// One ply later O is to move, so the perspective flips.
	next, err := rules.NextState(&root.State, game.Action{Symbol: game.X, Index: 40}, true)
	require.NoError(t, err)
	m.Synchronize(next)
	m.Config.Simulations = m.Tree().Root.VisitCount + 100
	require.NoError(t, m.Run(context.Background()))
	root = m.Tree().Root
	st = m.EvaluatedState()
	assert.Equal(t, root.OWins, st.Wins)
	assert.Equal(t, root.XWins, st.Losses)

	actions, err = m.EvaluatedActions()
	require.NoError(t, err)
	for i, a := range actions {
		assert.Equal(t, game.O, a.Action.Symbol)
		assert.Equal(t, root.Children[i].OWins, a.Wins)
	}
}

func TestUCT_EvaluatedActionsUsageErrors(t *testing.T) {
	m := NewUCT(game.NewGameState(), Config{Simulations: 10, Cpuct: 1}, rand.New(rand.NewSource(1)))
	_, err := m.EvaluatedActions()
	var usage *SearchUsageError
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, "node is a leaf", usage.Msg)

	require.NoError(t, m.Tree().Root.Expand())
	_, err = m.EvaluatedActions()
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, "node was not visited", usage.Msg)
}

func TestUCT_FindsImmediateWin(t *testing.T) {
	// X owns sub-boards 0 and 1 and has two in a row in sub-board 2; playing
	// cell 20 wins the game outright.
	s := game.NewGameState()
	s[game.OutcomeOffset+0] = byte(game.X)
	s[game.OutcomeOffset+1] = byte(game.X)
	for _, i := range []int{0, 1, 2, 9, 10, 11} {
		s[i] = byte(game.X)
	}
	for _, i := range []int{3, 4, 12, 13, 27, 28, 45, 54} {
		s[i] = byte(game.O)
	}
	s[18], s[19] = byte(game.X), byte(game.X)
	s[game.ConstraintIndex] = 2
	require.NoError(t, rules.VerifyState(s))

	m := NewUCT(s, Config{Simulations: 2000, Cpuct: math.Sqrt2}, rand.New(rand.NewSource(11)))
	require.NoError(t, m.Run(context.Background()))
	actions, err := m.EvaluatedActions()
	require.NoError(t, err)

	best, err := SelectAction(actions, SelectArgmax, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 20, best.Index)
}

func TestUCT_RunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewUCT(game.NewGameState(), Config{Simulations: 100, Cpuct: 1}, rand.New(rand.NewSource(1)))
	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Tree().Root.VisitCount)
}
