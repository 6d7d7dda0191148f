package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
	"github.com/brensch/uttt/store"
)

// GameRecord is everything a finished game produced.
type GameRecord struct {
	Evaluations []store.Evaluation
	Actions     []game.Action
	Final       game.GameState
}

func (r *GameRecord) Result() game.Symbol { return r.Final.Result() }

// PlyInfo describes one move as it is made.
type PlyInfo struct {
	Ply        int
	State      game.GameState
	Evaluation store.Evaluation
	Action     game.Action
}

// PlayTask plays task.State to termination: search, export, pick a move by
// sampling visit counts, apply it with verification and move the tree along.
// searcher must have been built for task.State.
func PlayTask(ctx context.Context, task Task, searcher mcts.Searcher, rng *rand.Rand, onPly func(PlyInfo)) (*GameRecord, error) {
	state := task.State
	if err := rules.VerifyState(&state); err != nil {
		return nil, fmt.Errorf("task state: %w", err)
	}

	rec := &GameRecord{}
	for ply := 0; !state.IsTerminated(); ply++ {
		if err := searcher.Run(ctx); err != nil {
			return nil, fmt.Errorf("ply %d: search: %w", ply, err)
		}
		actions, err := searcher.EvaluatedActions()
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		eval := store.Evaluation{Kind: searcher.Kind(), State: searcher.EvaluatedState(), Actions: actions}
		rec.Evaluations = append(rec.Evaluations, eval)

		action, err := mcts.SelectAction(actions, mcts.SelectSample, rng)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		if onPly != nil {
			onPly(PlyInfo{Ply: ply, State: state, Evaluation: eval, Action: action})
		}
		if err := rules.Apply(&state, action, true); err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		rec.Actions = append(rec.Actions, action)
		searcher.Synchronize(&state)
	}
	rec.Final = state
	return rec, nil
}

// TrainingRows turns a finished game into one row per ply.
func TrainingRows(gameID, source string, rec *GameRecord) []store.TrainingRow {
	result := rec.Result()
	rows := make([]store.TrainingRow, 0, len(rec.Evaluations))
	for ply, e := range rec.Evaluations {
		st := e.State.State
		mover := st.NextSymbol()

		policy := make([]float32, game.NumCells)
		total := 0
		for _, a := range e.Actions {
			total += a.VisitCount
		}
		if total > 0 {
			for _, a := range e.Actions {
				policy[a.Action.Index] = float32(a.VisitCount) / float32(total)
			}
		}

		var searchValue float64
		switch {
		case e.Kind == mcts.ValueStats:
			searchValue = e.State.ValueMean
		case e.State.VisitCount > 0:
			searchValue = float64(e.State.Wins-e.State.Losses) / float64(e.State.VisitCount)
		}

		var value float32
		switch result {
		case mover:
			value = 1
		case mover.Opponent():
			value = -1
		}

		rows = append(rows, store.TrainingRow{
			GameID:      gameID,
			Ply:         int32(ply),
			State:       append([]byte(nil), st[:]...),
			Symbol:      int32(mover),
			Policy:      policy,
			SearchValue: float32(searchValue),
			Value:       value,
			Source:      source,
		})
	}
	return rows
}

// GameSummary is published for every finished game.
type GameSummary struct {
	WorkerID   int           `json:"worker_id"`
	OutputPath string        `json:"output_path"`
	Result     string        `json:"result"`
	Plies      int           `json:"plies"`
	FinalState string        `json:"final_state"`
	Duration   time.Duration `json:"duration_ns"`
}

// Runner plays tasks and persists what they produce. All fields except
// Logger are optional.
type Runner struct {
	Logger  *slog.Logger
	Written *store.WrittenLog
	Rows    chan<- []store.TrainingRow
	OnGame  func(GameSummary)
	Source  string
	// Trace logs every ply of worker 0.
	Trace bool

	Plies   atomic.Int64
	Games   atomic.Int64
	Skipped atomic.Int64
}

// RunRollout plays a task with the rollout search.
func (r *Runner) RunRollout(ctx context.Context, workerID int, task Task) error {
	rng := rand.New(rand.NewSource(task.Seed))
	searcher := mcts.NewUCT(&task.State, mcts.Config{Simulations: task.Simulations, Cpuct: task.Exploration}, rng)
	return r.run(ctx, workerID, task, searcher, rng)
}

// RunNeural plays a task with the network guided search. Its signature fits
// broker.Handler.
func (r *Runner) RunNeural(ctx context.Context, workerID int, task Task, predictor mcts.Predictor) error {
	rng := rand.New(rand.NewSource(task.Seed))
	searcher := mcts.NewPUCT(&task.State, mcts.Config{Simulations: task.Simulations, Cpuct: task.Exploration}, predictor, rng)
	return r.run(ctx, workerID, task, searcher, rng)
}

func (r *Runner) run(ctx context.Context, workerID int, task Task, searcher mcts.Searcher, rng *rand.Rand) error {
	log := r.logger().With("worker_id", workerID, "task", task.OutputPath)
	if r.Written != nil && r.Written.Has(task.OutputPath) {
		r.Skipped.Add(1)
		log.Debug("task already written, skipping")
		return nil
	}

	start := time.Now()
	onPly := func(p PlyInfo) {
		r.Plies.Add(1)
		if r.Trace && workerID == 0 {
			log.Info("ply",
				"ply", p.Ply,
				"action", p.Action.String(),
				"board", "\n"+RenderBoard(&p.State),
				"visits", FormatVisits(p.Evaluation.Actions, p.Action),
			)
		}
	}
	rec, err := PlayTask(ctx, task, searcher, rng, onPly)
	if err != nil {
		return err
	}

	if err := store.WriteEvaluations(task.OutputPath, rec.Evaluations); err != nil {
		return err
	}
	if r.Written != nil {
		if err := r.Written.Add(task.OutputPath); err != nil {
			return fmt.Errorf("record written task: %w", err)
		}
	}
	if r.Rows != nil {
		select {
		case r.Rows <- TrainingRows(task.OutputPath, r.Source, rec):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.Games.Add(1)
	summary := GameSummary{
		WorkerID:   workerID,
		OutputPath: task.OutputPath,
		Result:     resultName(rec.Result()),
		Plies:      len(rec.Actions),
		FinalState: rec.Final.Digits(),
		Duration:   time.Since(start),
	}
	log.Info("game finished", "result", summary.Result, "plies", summary.Plies, "took", summary.Duration.Round(time.Millisecond))
	if r.OnGame != nil {
		r.OnGame(summary)
	}
	return nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func resultName(s game.Symbol) string {
	switch s {
	case game.X:
		return "X_WON"
	case game.O:
		return "O_WON"
	case game.Draw:
		return "DRAW"
	}
	return "None"
}
