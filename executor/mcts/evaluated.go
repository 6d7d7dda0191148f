package mcts

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/brensch/uttt/game"
)

// StatsKind tells which accumulator family an export carries.
type StatsKind int

const (
	// RolloutStats carries win/draw/loss counts.
	RolloutStats StatsKind = iota
	// ValueStats carries a mean value estimate.
	ValueStats
)

func (k StatsKind) String() string {
	switch k {
	case RolloutStats:
		return "rollout"
	case ValueStats:
		return "value"
	}
	return fmt.Sprintf("StatsKind(%d)", int(k))
}

// EvaluatedState is a snapshot of the root. Wins and losses are relative to
// the player to move; ValueMean is only meaningful for ValueStats.
type EvaluatedState struct {
	State      game.GameState
	VisitCount int
	Wins       int
	Draws      int
	Losses     int
	ValueMean  float64
}

// EvaluatedAction is a snapshot of one root child. Wins and losses are
// relative to the action's symbol; ValueMean is from the mover's perspective.
type EvaluatedAction struct {
	Action     game.Action
	VisitCount int
	Wins       int
	Draws      int
	Losses     int
	ValueMean  float64
}

// Searcher is the surface shared by both search policies.
type Searcher interface {
	Kind() StatsKind
	Run(ctx context.Context) error
	EvaluatedState() EvaluatedState
	EvaluatedActions() ([]EvaluatedAction, error)
	Synchronize(state *game.GameState)
	Tree() *Tree
}

func checkEvaluable(n *Node) error {
	if n.IsLeaf() {
		return &SearchUsageError{Op: "evaluated actions", Msg: "node is a leaf"}
	}
	if n.VisitCount == 0 {
		return &SearchUsageError{Op: "evaluated actions", Msg: "node was not visited"}
	}
	return nil
}

// Selection methods accepted by SelectAction.
const (
	SelectArgmax = "argmax"
	SelectSample = "sample"
	SelectRandom = "random"
)

// SelectAction picks a move from exported statistics. argmax breaks visit
// count ties uniformly, sample draws proportionally to visit counts and
// random ignores the statistics.
func SelectAction(actions []EvaluatedAction, method string, rng *rand.Rand) (game.Action, error) {
	if len(actions) == 0 {
		return game.Action{}, fmt.Errorf("select action: no evaluated actions")
	}
	switch method {
	case SelectArgmax:
		maxVisits := -1
		top := make([]int, 0, 4)
		for i, a := range actions {
			switch {
			case a.VisitCount > maxVisits:
				maxVisits = a.VisitCount
				top = append(top[:0], i)
			case a.VisitCount == maxVisits:
				top = append(top, i)
			}
		}
		return actions[top[rng.Intn(len(top))]].Action, nil
	case SelectSample:
		total := 0
		for _, a := range actions {
			total += a.VisitCount
		}
		if total <= 0 {
			return game.Action{}, fmt.Errorf("select action: total visit count is %d", total)
		}
		threshold := rng.Intn(total) + 1
		cumulative := 0
		for _, a := range actions {
			cumulative += a.VisitCount
			if cumulative >= threshold {
				return a.Action, nil
			}
		}
		return actions[len(actions)-1].Action, nil
	case SelectRandom:
		return actions[rng.Intn(len(actions))].Action, nil
	}
	return game.Action{}, fmt.Errorf("select action: unknown selection method %q", method)
}
