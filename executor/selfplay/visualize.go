// visualize.go - Console rendering for tracing generated games.
package selfplay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

const legalMark = "•"

func markFor(s game.Symbol) string {
	switch s {
	case game.X:
		return "X"
	case game.O:
		return "O"
	case game.Draw:
		return "="
	}
	return "-"
}

// RenderBoard draws the 9x9 grid with sub-board separators, the 3x3 grid of
// sub-board outcomes and the side to move. Legal cells are marked with a dot.
func RenderBoard(state *game.GameState) string {
	var grid [convert.Height][convert.Width]string
	for i := 0; i < game.NumCells; i++ {
		grid[convert.RowIndex(i)][convert.ColIndex(i)] = markFor(state.Cell(i))
	}
	var super [game.NumBoards]string
	for b := 0; b < game.NumBoards; b++ {
		super[b] = markFor(state.Outcome(b))
	}

	terminated := state.IsTerminated()
	if !terminated {
		for _, i := range rules.LegalIndexes(state) {
			grid[convert.RowIndex(i)][convert.ColIndex(i)] = legalMark
		}
		if state.IsConstrained() {
			super[state.Constraint()] = legalMark
		} else {
			for b := range super {
				if super[b] == "-" {
					super[b] = legalMark
				}
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("    0 1 2   3 4 5   6 7 8\n")
	for row := 0; row < convert.Height; row++ {
		if row > 0 && row%3 == 0 {
			sb.WriteString("    " + strings.Repeat("—", 21) + "\n")
		}
		fmt.Fprintf(&sb, "  %d ", row)
		for col := 0; col < convert.Width; col++ {
			if col > 0 {
				if col%3 == 0 {
					sb.WriteString(" │ ")
				} else {
					sb.WriteByte(' ')
				}
			}
			sb.WriteString(grid[row][col])
		}
		sb.WriteByte('\n')
	}

	if !terminated {
		fmt.Fprintf(&sb, "next: %s\n", markFor(state.NextSymbol()))
		if state.IsUnconstrained() {
			sb.WriteString("constraint: None\n")
		} else {
			fmt.Fprintf(&sb, "constraint: %d\n", state.Constraint())
		}
	}
	sb.WriteString("supergame:\n")
	for r := 0; r < 3; r++ {
		fmt.Fprintf(&sb, "  %s\n", strings.Join(super[3*r:3*r+3], " "))
	}
	fmt.Fprintf(&sb, "result: %s", resultName(state.Result()))
	return sb.String()
}

// FormatVisits lists the most visited actions, marking the chosen one.
func FormatVisits(actions []mcts.EvaluatedAction, chosen game.Action) string {
	sorted := append([]mcts.EvaluatedAction(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].VisitCount > sorted[j].VisitCount
	})

	total := 0
	for _, a := range sorted {
		total += a.VisitCount
	}

	const maxShown = 5
	per := make([]string, 0, maxShown)
	for i, a := range sorted {
		if i == maxShown {
			break
		}
		mark := ""
		if a.Action == chosen {
			mark = "*"
		}
		pct := 0.0
		if total > 0 {
			pct = float64(a.VisitCount) / float64(total) * 100
		}
		per = append(per, fmt.Sprintf("%s%d: N=%d (%.1f%%) W=%d D=%d L=%d Q=%.3f",
			mark, a.Action.Index, a.VisitCount, pct, a.Wins, a.Draws, a.Losses, a.ValueMean))
	}
	return strings.Join(per, " | ")
}
