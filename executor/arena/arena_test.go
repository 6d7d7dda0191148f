package arena

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

type flatPredictor struct{}

func (flatPredictor) Predict(context.Context, *game.GameState) ([]float32, float32, error) {
	return make([]float32, convert.PolicySize), 0, nil
}

func rollout(sims int) Contender {
	return Contender{Name: "mcts", New: func(s *game.GameState, rng *rand.Rand) mcts.Searcher {
		return mcts.NewUCT(s, mcts.Config{Simulations: sims, Cpuct: math.Sqrt2}, rng)
	}}
}

func neural(sims int) Contender {
	return Contender{Name: "nmcts", New: func(s *game.GameState, rng *rand.Rand) mcts.Searcher {
		return mcts.NewPUCT(s, mcts.Config{Simulations: sims, Cpuct: 2}, flatPredictor{}, rng)
	}}
}

func TestPlayGame_AlternatesSearchers(t *testing.T) {
	start := game.NewGameState()
	rng := rand.New(rand.NewSource(1))
	x := neural(15).New(start, rng)
	o := rollout(15).New(start, rng)

	g, err := PlayGame(context.Background(), start, x, o, rng)
	require.NoError(t, err)
	require.True(t, g.Final.IsTerminated())
	require.Len(t, g.Evaluations, len(g.Actions))

	s := game.NewGameState()
	for i, e := range g.Evaluations {
		require.Equal(t, *s, e.State.State, "ply %d", i)
		want := mcts.ValueStats
		if s.NextSymbol() == game.O {
			want = mcts.RolloutStats
		}
		assert.Equal(t, want, e.Kind, "ply %d", i)
		assert.Equal(t, 15, e.State.VisitCount, "ply %d", i)
		require.NoError(t, rules.Apply(s, g.Actions[i], true))
	}
	assert.Equal(t, g.Final, *s)
}

func TestPlayGame_RejectsInvalidStart(t *testing.T) {
	start := game.NewGameState()
	start[game.NextSymbolIndex] = 0
	rng := rand.New(rand.NewSource(1))
	_, err := PlayGame(context.Background(), start, rollout(5).New(start, rng), rollout(5).New(start, rng), rng)
	var inv *rules.InvariantViolationError
	assert.ErrorAs(t, err, &inv)
}

func TestMatch_PlaysBothColours(t *testing.T) {
	opened := game.NewGameState()
	require.NoError(t, rules.Apply(opened, game.Action{Symbol: game.X, Index: 40}, true))
	starts := []game.GameState{*game.NewGameState(), *opened}

	var calls int
	sum, games, err := Match(context.Background(), starts, neural(10), rollout(10), 7, func(_ *Game, running Summary) {
		calls++
		assert.Equal(t, calls, running.Total().Games())
	})
	require.NoError(t, err)
	require.Len(t, games, 4)
	assert.Equal(t, 4, calls)

	assert.Equal(t, 2, sum.AsX.Games())
	assert.Equal(t, 2, sum.AsO.Games())
	assert.Equal(t, 4, sum.Total().Games())

	for i, g := range games {
		assert.Equal(t, starts[i/2], g.Start)
		if i%2 == 0 {
			assert.Equal(t, "nmcts", g.X)
			assert.Equal(t, "mcts", g.O)
		} else {
			assert.Equal(t, "mcts", g.X)
			assert.Equal(t, "nmcts", g.O)
		}
	}

	var fromGames Tally
	for i, g := range games {
		side := game.X
		if i%2 == 1 {
			side = game.O
		}
		fromGames.add(g.Final.Result(), side)
	}
	assert.Equal(t, sum.Total(), fromGames)
}

func TestMatch_IsDeterministicPerSeed(t *testing.T) {
	starts := []game.GameState{*game.NewGameState()}
	_, a, err := Match(context.Background(), starts, rollout(12), rollout(12), 3, nil)
	require.NoError(t, err)
	_, b, err := Match(context.Background(), starts, rollout(12), rollout(12), 3, nil)
	require.NoError(t, err)
	require.Len(t, a, 2)
	for i := range a {
		assert.Equal(t, a[i].Actions, b[i].Actions)
	}
}

func TestLoadStates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starts.txt")
	digits := game.NewGameState().Digits()
	require.NoError(t, os.WriteFile(path, []byte("# openings\n"+digits+"\n\n"), 0o644))

	states, err := LoadStates(path)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, *game.NewGameState(), states[0])

	bad := digits[:90] + "0" + digits[91:]
	require.NoError(t, os.WriteFile(path, []byte(digits+"\n"+bad+"\n"), 0o644))
	_, err = LoadStates(path)
	assert.ErrorContains(t, err, "starts.txt:2")
}
