package mcts

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/uttt/game"
)

func evaluatedActions(visits ...int) []EvaluatedAction {
	out := make([]EvaluatedAction, len(visits))
	for i, v := range visits {
		out[i] = EvaluatedAction{Action: game.Action{Symbol: game.X, Index: i}, VisitCount: v}
	}
	return out
}

func TestSelectAction_Argmax(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, err := SelectAction(evaluatedActions(3, 9, 1), SelectArgmax, rng)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Index)

	counts := map[int]int{}
	for i := 0; i < 10000; i++ {
		a, err := SelectAction(evaluatedActions(5, 2, 5, 5), SelectArgmax, rng)
		require.NoError(t, err)
		counts[a.Index]++
	}
	assert.Zero(t, counts[1])
	for _, idx := range []int{0, 2, 3} {
		assert.InDelta(t, 1.0/3, float64(counts[idx])/10000, 0.03, "index %d", idx)
	}
}

func TestSelectAction_SampleIsProportional(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	actions := evaluatedActions(1, 0, 3, 6)
	const draws = 40000
	counts := map[int]int{}
	for i := 0; i < draws; i++ {
		a, err := SelectAction(actions, SelectSample, rng)
		require.NoError(t, err)
		counts[a.Index]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 0.1, float64(counts[0])/draws, 0.01)
	assert.InDelta(t, 0.3, float64(counts[2])/draws, 0.015)
	assert.InDelta(t, 0.6, float64(counts[3])/draws, 0.015)
}

func TestSelectAction_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		a, err := SelectAction(evaluatedActions(0, 0, 100), SelectRandom, rng)
		require.NoError(t, err)
		seen[a.Index] = true
	}
	assert.Len(t, seen, 3)
}

func TestSelectAction_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	_, err := SelectAction(nil, SelectArgmax, rng)
	assert.Error(t, err)

	_, err = SelectAction(evaluatedActions(0, 0), SelectSample, rng)
	assert.ErrorContains(t, err, "total visit count")

	_, err = SelectAction(evaluatedActions(1), "softmax", rng)
	assert.ErrorContains(t, err, `unknown selection method "softmax"`)
}

func TestStatsKind_String(t *testing.T) {
	assert.Equal(t, "rollout", RolloutStats.String())
	assert.Equal(t, "value", ValueStats.String())
	assert.Equal(t, "StatsKind(7)", StatsKind(7).String())
}
