package rules

import (
	"github.com/brensch/uttt/game"
)

// supergame addresses the grid of sub-board outcomes as if it were a tenth
// sub-board: its "cells" are bytes 81..89.
const supergame = game.NumBoards

// LegalIndexes returns the cells the player to move may write, in ascending order.
func LegalIndexes(state *game.GameState) []int {
	if state.IsTerminated() {
		return []int{}
	}
	if state.IsConstrained() {
		if state.Outcome(state.Constraint()) != game.Empty {
			return []int{}
		}
		return emptyIndexes(state, state.Constraint(), make([]int, 0, 9))
	}
	out := make([]int, 0, game.NumCells)
	for b := 0; b < game.NumBoards; b++ {
		if state.Outcome(b) != game.Empty {
			continue
		}
		out = emptyIndexes(state, b, out)
	}
	return out
}

// LegalActions returns one action per legal cell for the player to move.
func LegalActions(state *game.GameState) []game.Action {
	indexes := LegalIndexes(state)
	sym := state.NextSymbol()
	actions := make([]game.Action, len(indexes))
	for i, idx := range indexes {
		actions[i] = game.Action{Symbol: sym, Index: idx}
	}
	return actions
}

func emptyIndexes(state *game.GameState, board int, out []int) []int {
	offset := board * 9
	for i := offset; i < offset+9; i++ {
		if state[i] == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Apply executes action on state in place. With verify set the position is
// checked before and after the move and the action is checked against the
// rules; the first violation is returned and state is left untouched when the
// action itself is illegal.
func Apply(state *game.GameState, action game.Action, verify bool) error {
	if verify {
		if state.IsTerminated() {
			return &IllegalActionError{Action: action, GameOver: true}
		}
		if err := VerifyState(state); err != nil {
			return err
		}
		if err := verifyAction(state, action); err != nil {
			return err
		}
	}

	state[action.Index] = byte(action.Symbol)
	updateResult(state, action.Symbol, action.Index)
	state[game.NextSymbolIndex] = byte(state.NextSymbol().Opponent())
	next := action.Index % 9
	if state.Outcome(next) != game.Empty {
		state[game.ConstraintIndex] = game.Unconstrained
	} else {
		state[game.ConstraintIndex] = byte(next)
	}

	if verify {
		return VerifyState(state)
	}
	return nil
}

// NextState returns the successor of state, leaving state unchanged.
func NextState(state *game.GameState, action game.Action, verify bool) (*game.GameState, error) {
	next := state.Clone()
	if err := Apply(next, action, verify); err != nil {
		return nil, err
	}
	return next, nil
}

// IsTerminal reports whether the overall game is decided.
func IsTerminal(state *game.GameState) bool {
	return state.IsTerminated()
}

// GetResult returns the overall result: Empty while the game is running,
// otherwise X, O or Draw.
func GetResult(state *game.GameState) game.Symbol {
	return state.Result()
}

func updateResult(state *game.GameState, sym game.Symbol, index int) {
	board := index / 9
	switch {
	case IsWinningPosition(state, sym, board):
		state[game.OutcomeOffset+board] = byte(sym)
	case isFull(state, board):
		state[game.OutcomeOffset+board] = byte(game.Draw)
	default:
		return
	}
	switch {
	case IsWinningPosition(state, sym, supergame):
		state[game.ResultIndex] = byte(sym)
	case isFull(state, supergame):
		state[game.ResultIndex] = byte(game.Draw)
	}
}

// IsWinningPosition reports whether sym holds a line on the given sub-board.
// Board 9 is the supergame.
func IsWinningPosition(state *game.GameState, sym game.Symbol, board int) bool {
	s := byte(sym)
	c := state[board*9 : board*9+9]
	if s == c[4] &&
		(s == c[0] && s == c[8] ||
			s == c[2] && s == c[6] ||
			s == c[1] && s == c[7] ||
			s == c[3] && s == c[5]) {
		return true
	}
	if s == c[0] && (s == c[1] && s == c[2] || s == c[3] && s == c[6]) {
		return true
	}
	return s == c[8] && (s == c[2] && s == c[5] || s == c[6] && s == c[7])
}

func isFull(state *game.GameState, board int) bool {
	for _, v := range state[board*9 : board*9+9] {
		if v == 0 {
			return false
		}
	}
	return true
}
