package selfplay

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
	"github.com/brensch/uttt/store"
)

func TestParseTask(t *testing.T) {
	digits := game.NewGameState().Digits()
	task, err := ParseTask(digits + " 400 1.41 7 out/game_7.txt")
	require.NoError(t, err)
	assert.Equal(t, *game.NewGameState(), task.State)
	assert.Equal(t, 400, task.Simulations)
	assert.Equal(t, 1.41, task.Exploration)
	assert.Equal(t, int64(7), task.Seed)
	assert.Equal(t, "out/game_7.txt", task.OutputPath)
	assert.Equal(t, digits+" 400 1.41 7 out/game_7.txt", task.String())

	bad := []string{
		"",
		digits + " 400 1.41 7",
		"123 400 1.41 7 out.txt",
		digits + " 0 1.41 7 out.txt",
		digits + " 400 x 7 out.txt",
		digits + " 400 1.41 seed out.txt",
	}
	for _, line := range bad {
		_, err := ParseTask(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestLoadTasks(t *testing.T) {
	digits := game.NewGameState().Digits()
	path := filepath.Join(t.TempDir(), "tasks.txt")
	content := "# generated\n" + digits + " 10 1 1 a.txt\n\n" + digits + " 20 2 2 b.txt\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tasks, err := LoadTasks(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b.txt", tasks[1].OutputPath)

	require.NoError(t, os.WriteFile(path, []byte(digits+" 10 1 1\n"), 0o644))
	_, err = LoadTasks(path)
	assert.ErrorContains(t, err, "tasks.txt:1")
}

func TestRenderBoard(t *testing.T) {
	out := RenderBoard(game.NewGameState())
	lines := strings.Split(out, "\n")
	assert.Equal(t, "    0 1 2   3 4 5   6 7 8", lines[0])
	assert.Equal(t, "  0 • • • │ • • • │ • • •", lines[1])
	assert.Equal(t, "    "+strings.Repeat("—", 21), lines[4])
	assert.Contains(t, out, "next: X\nconstraint: None\n")
	assert.Contains(t, out, "supergame:\n  • • •\n  • • •\n  • • •\n")
	assert.True(t, strings.HasSuffix(out, "result: None"))

	s := game.NewGameState()
	require.NoError(t, rules.Apply(s, game.Action{Symbol: game.X, Index: 40}, true))
	out = RenderBoard(s)
	lines = strings.Split(out, "\n")
	// Cell 40 is the centre of the grid; only sub-board 4 is playable.
	assert.Equal(t, "  4 - - - │ • X • │ - - -", lines[6])
	assert.Contains(t, out, "next: O\nconstraint: 4\n")
	assert.Contains(t, out, "supergame:\n  - - -\n  - • -\n  - - -\n")
}

func playRollout(t *testing.T, seed int64, sims int) (Task, *GameRecord) {
	t.Helper()
	task := Task{State: *game.NewGameState(), Simulations: sims, Exploration: math.Sqrt2, Seed: seed}
	rng := rand.New(rand.NewSource(seed))
	searcher := mcts.NewUCT(&task.State, mcts.Config{Simulations: sims, Cpuct: math.Sqrt2}, rng)
	rec, err := PlayTask(context.Background(), task, searcher, rng, nil)
	require.NoError(t, err)
	return task, rec
}

func TestPlayTask_ReplaysLegally(t *testing.T) {
	_, rec := playRollout(t, 3, 40)
	require.True(t, rec.Final.IsTerminated())
	require.Len(t, rec.Evaluations, len(rec.Actions))

	s := game.NewGameState()
	for i, e := range rec.Evaluations {
		require.Equal(t, *s, e.State.State, "ply %d", i)
		require.Equal(t, 40, e.State.VisitCount)
		require.NoError(t, rules.Apply(s, rec.Actions[i], true))
	}
	assert.Equal(t, rec.Final, *s)
}

func TestPlayTask_IsDeterministicPerSeed(t *testing.T) {
	_, a := playRollout(t, 9, 25)
	_, b := playRollout(t, 9, 25)
	assert.Equal(t, a.Actions, b.Actions)
}

func TestPlayTask_RejectsCorruptState(t *testing.T) {
	task := Task{State: *game.NewGameState(), Simulations: 5, Exploration: 1}
	// X owns a full row of sub-board 0 but the outcome was never recorded.
	task.State[0], task.State[1], task.State[2] = byte(game.X), byte(game.X), byte(game.X)
	rng := rand.New(rand.NewSource(1))
	_, err := PlayTask(context.Background(), task, mcts.NewUCT(&task.State, mcts.Config{Simulations: 5, Cpuct: 1}, rng), rng, nil)
	var violation *rules.InvariantViolationError
	assert.ErrorAs(t, err, &violation)
}

func TestTrainingRows(t *testing.T) {
	_, rec := playRollout(t, 4, 30)
	rows := TrainingRows("g", "mcts", rec)
	require.Len(t, rows, len(rec.Evaluations))

	result := rec.Result()
	for i, row := range rows {
		assert.Equal(t, int32(i), row.Ply)
		assert.Len(t, row.State, game.StateSize)
		mover := game.Symbol(row.Symbol)
		switch result {
		case game.Draw:
			assert.Equal(t, float32(0), row.Value)
		case mover:
			assert.Equal(t, float32(1), row.Value)
		default:
			assert.Equal(t, float32(-1), row.Value)
		}
		var sum float32
		for _, p := range row.Policy {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-5)
		assert.GreaterOrEqual(t, row.SearchValue, float32(-1))
		assert.LessOrEqual(t, row.SearchValue, float32(1))
	}
}

func TestRunner_RolloutWritesAndSkips(t *testing.T) {
	dir := t.TempDir()
	written, err := store.OpenWrittenLog(filepath.Join(dir, "written.log"))
	require.NoError(t, err)
	defer written.Close()

	rowsCh := make(chan []store.TrainingRow, 1)
	var summaries []GameSummary
	r := &Runner{Written: written, Rows: rowsCh, Source: "mcts", OnGame: func(s GameSummary) {
		summaries = append(summaries, s)
	}}

	task := Task{State: *game.NewGameState(), Simulations: 20, Exploration: math.Sqrt2, Seed: 5, OutputPath: filepath.Join(dir, "out", "game.txt")}
	require.NoError(t, r.RunRollout(context.Background(), 0, task))

	evals, err := store.ReadEvaluations(task.OutputPath)
	require.NoError(t, err)
	require.NotEmpty(t, evals)
	assert.Equal(t, mcts.RolloutStats, evals[0].Kind)
	assert.Equal(t, *game.NewGameState(), evals[0].State.State)
	assert.True(t, written.Has(task.OutputPath))

	rows := <-rowsCh
	assert.Len(t, rows, len(evals))
	require.Len(t, summaries, 1)
	assert.Equal(t, len(evals), summaries[0].Plies)
	assert.Equal(t, int64(len(evals)), r.Plies.Load())

	// A second run of the same task is skipped.
	require.NoError(t, os.Remove(task.OutputPath))
	require.NoError(t, r.RunRollout(context.Background(), 0, task))
	assert.Equal(t, int64(1), r.Skipped.Load())
	assert.Equal(t, int64(1), r.Games.Load())
	_, err = os.Stat(task.OutputPath)
	assert.True(t, os.IsNotExist(err))
}

type uniformPredictor struct{}

func (uniformPredictor) Predict(context.Context, *game.GameState) ([]float32, float32, error) {
	return make([]float32, convert.PolicySize), 0, nil
}

func TestRunner_NeuralWritesValueRecords(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{}
	task := Task{State: *game.NewGameState(), Simulations: 12, Exploration: 1.25, Seed: 2, OutputPath: filepath.Join(dir, "game.txt")}
	require.NoError(t, r.RunNeural(context.Background(), 1, task, uniformPredictor{}))

	evals, err := store.ReadEvaluations(task.OutputPath)
	require.NoError(t, err)
	require.NotEmpty(t, evals)
	for _, e := range evals {
		assert.Equal(t, mcts.ValueStats, e.Kind)
		assert.Equal(t, 12, e.State.VisitCount)
	}
}

func TestFormatVisits(t *testing.T) {
	actions := []mcts.EvaluatedAction{
		{Action: game.Action{Symbol: game.X, Index: 3}, VisitCount: 1},
		{Action: game.Action{Symbol: game.X, Index: 7}, VisitCount: 3},
	}
	out := FormatVisits(actions, game.Action{Symbol: game.X, Index: 3})
	assert.True(t, strings.HasPrefix(out, "7: N=3 (75.0%)"))
	assert.Contains(t, out, "*3: N=1 (25.0%)")
}
