// Package game defines the core state types for ultimate tic-tac-toe.
//
// The whole position fits in a fixed 93 byte array so it can be copied by
// value when the search tree branches and compared with ==.
package game

import (
	"fmt"
	"strings"
)

// Symbol is a cell, outcome or result marker.
type Symbol byte

const (
	Empty Symbol = 0
	X     Symbol = 1
	O     Symbol = 2
	Draw  Symbol = 3
)

func (s Symbol) String() string {
	switch s {
	case X:
		return "X"
	case O:
		return "O"
	case Draw:
		return "DRAW"
	case Empty:
		return "-"
	}
	return fmt.Sprintf("Symbol(%d)", byte(s))
}

// Opponent returns the other player. Anything that is not X maps to X.
func (s Symbol) Opponent() Symbol {
	if s == X {
		return O
	}
	return X
}

const (
	NumCells  = 81
	NumBoards = 9

	// Byte offsets inside GameState.
	OutcomeOffset   = 81
	NextSymbolIndex = 90
	ConstraintIndex = 91
	ResultIndex     = 92
	StateSize       = 93

	// Unconstrained is the constraint value allowing a move in any open sub-board.
	Unconstrained = 9
)

// GameState is the complete position. Cells 0..80 hold X/O marks (sub-board k
// owns cells 9k..9k+8), 81..89 the sub-board outcomes, then the next symbol,
// the constraint and the overall result.
type GameState [StateSize]byte

// NewGameState returns the empty board with X to move.
func NewGameState() *GameState {
	s := &GameState{}
	s[NextSymbolIndex] = byte(X)
	s[ConstraintIndex] = Unconstrained
	return s
}

// Clone returns an independent copy.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func (s *GameState) Equal(other *GameState) bool {
	if s == nil || other == nil {
		return s == other
	}
	return *s == *other
}

func (s *GameState) Cell(index int) Symbol { return Symbol(s[index]) }
func (s *GameState) Outcome(board int) Symbol { return Symbol(s[OutcomeOffset+board]) }
func (s *GameState) NextSymbol() Symbol { return Symbol(s[NextSymbolIndex]) }
func (s *GameState) Constraint() int { return int(s[ConstraintIndex]) }
func (s *GameState) Result() Symbol { return Symbol(s[ResultIndex]) }
func (s *GameState) IsTerminated() bool { return s[ResultIndex] != 0 }
func (s *GameState) IsUnconstrained() bool { return s[ConstraintIndex] == Unconstrained }
func (s *GameState) IsConstrained() bool { return s[ConstraintIndex] < NumBoards }
func (s *GameState) SetCell(index int, sym Symbol) { s[index] = byte(sym) }

// Action places Symbol on cell Index (0..80).
type Action struct {
	Symbol Symbol
	Index  int
}

func (a Action) String() string {
	sym := "?"
	switch a.Symbol {
	case X:
		sym = "X"
	case O:
		sym = "O"
	}
	return fmt.Sprintf("Action(symbol=%s, index=%d)", sym, a.Index)
}

// Digits renders the state as 93 decimal digits, the form used in task lines
// and evaluation records.
func (s *GameState) Digits() string {
	var b strings.Builder
	b.Grow(StateSize)
	for _, v := range s {
		b.WriteByte('0' + v)
	}
	return b.String()
}

// ParseState is the inverse of Digits. Values are range checked per field but
// the position itself is not verified; use rules.VerifyState for that.
func ParseState(digits string) (*GameState, error) {
	if len(digits) != StateSize {
		return nil, fmt.Errorf("state must have %d digits, got %d", StateSize, len(digits))
	}
	s := &GameState{}
	for i := 0; i < StateSize; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid state value %q at %d", c, i)
		}
		v := c - '0'
		var maxV byte
		switch {
		case i < NumCells:
			maxV = byte(O)
		case i == NextSymbolIndex:
			maxV = byte(O)
		case i == ConstraintIndex:
			maxV = Unconstrained
		default:
			maxV = byte(Draw)
		}
		if v > maxV {
			return nil, fmt.Errorf("invalid state value %d at %d", v, i)
		}
		if i == NextSymbolIndex && v != byte(X) && v != byte(O) {
			return nil, fmt.Errorf("invalid next symbol %d at %d", v, i)
		}
		s[i] = v
	}
	return s, nil
}
