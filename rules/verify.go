package rules

import (
	"fmt"

	"github.com/brensch/uttt/game"
)

// IllegalActionError reports a move that breaks turn order, index range,
// constraint, occupancy or termination rules.
type IllegalActionError struct {
	Action game.Action
	Reason string
	// GameOver is set when the whole game had already finished.
	GameOver bool
}

func (e *IllegalActionError) Error() string {
	if e.GameOver {
		return "supergame is terminated"
	}
	return fmt.Sprintf("Illegal %s - %s", e.Action, e.Reason)
}

// InvariantViolationError reports a position whose outcome fields disagree
// with its contents. Legal play never produces one.
type InvariantViolationError struct {
	Msg string
}

func (e *InvariantViolationError) Error() string { return e.Msg }

func violation(format string, args ...any) error {
	return &InvariantViolationError{Msg: fmt.Sprintf(format, args...)}
}

// VerifyState checks the supergame, every sub-board, the constraint and the
// next symbol, in that order, and returns the first inconsistency found.
func VerifyState(state *game.GameState) error {
	if err := verifySupergame(state); err != nil {
		return err
	}
	if err := verifySubgames(state); err != nil {
		return err
	}
	if err := verifyConstraint(state); err != nil {
		return err
	}
	if next := state.NextSymbol(); next != game.X && next != game.O {
		return violation("invalid next symbol=%d", next)
	}
	return nil
}

func verifySupergame(state *game.GameState) error {
	xw := IsWinningPosition(state, game.X, supergame)
	ow := IsWinningPosition(state, game.O, supergame)
	full := isFull(state, supergame)
	result := state.Result()
	switch {
	case xw && ow:
		return violation("X and O have winning positions on supergame")
	case xw && result != game.X:
		return violation("X won supergame, but result is not updated")
	case ow && result != game.O:
		return violation("O won supergame, but result is not updated")
	case full && !xw && !ow && result != game.Draw:
		return violation("DRAW on supergame, but result is not updated")
	}
	return nil
}

func verifySubgames(state *game.GameState) error {
	for b := 0; b < game.NumBoards; b++ {
		xw := IsWinningPosition(state, game.X, b)
		ow := IsWinningPosition(state, game.O, b)
		full := isFull(state, b)
		outcome := state.Outcome(b)
		switch {
		case xw && ow:
			return violation("X and O have winning positions on subgame=%d", b)
		case xw && outcome != game.X:
			return violation("X won subgame=%d, but supergame is not updated", b)
		case ow && outcome != game.O:
			return violation("O won subgame=%d, but supergame is not updated", b)
		case full && !xw && !ow && outcome != game.Draw:
			return violation("DRAW on subgame=%d, but supergame is not updated", b)
		}
	}
	return nil
}

func verifyConstraint(state *game.GameState) error {
	c := state.Constraint()
	if !state.IsConstrained() && !state.IsUnconstrained() {
		return violation("invalid constraint=%d", c)
	}
	if state.IsConstrained() && state.Outcome(c) != game.Empty {
		return violation("constraint=%d points to terminated subgame", c)
	}
	return nil
}

func verifyAction(state *game.GameState, action game.Action) error {
	illegal := func(reason string) error {
		return &IllegalActionError{Action: action, Reason: reason}
	}
	next := state.NextSymbol()
	if next == game.X && action.Symbol != game.X {
		return illegal("next move belongs to X")
	}
	if next == game.O && action.Symbol != game.O {
		return illegal("next move belongs to O")
	}
	if action.Index < 0 || action.Index >= game.NumCells {
		return illegal("index outside the valid range")
	}
	board := action.Index / 9
	if state.IsConstrained() && state.Constraint() != board {
		return illegal(fmt.Sprintf("violated constraint=%d", state.Constraint()))
	}
	if state.Outcome(board) != game.Empty {
		return illegal("index from terminated subgame")
	}
	if state[action.Index] != 0 {
		return illegal("index is already taken")
	}
	return nil
}
