package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
)

const (
	statePrefix   = "evaluatedState{"
	actionsPrefix = "evaluatedActions{"
)

// Evaluation is one search export: the root snapshot and one entry per legal
// action. Kind decides which statistics are written.
type Evaluation struct {
	Kind    mcts.StatsKind
	State   mcts.EvaluatedState
	Actions []mcts.EvaluatedAction
}

// Format renders the evaluation as a single line:
//
//	evaluatedState{<93 digits> visits wins draws losses} evaluatedActions{sym idx visits wins draws losses,...}
//	evaluatedState{<93 digits> visits mean} evaluatedActions{sym idx visits mean,...}
func (e Evaluation) Format() string {
	var b strings.Builder
	b.WriteString(statePrefix)
	b.WriteString(e.State.State.Digits())
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(e.State.VisitCount))
	if e.Kind == mcts.ValueStats {
		b.WriteByte(' ')
		b.WriteString(formatMean(e.State.ValueMean))
	} else {
		fmt.Fprintf(&b, " %d %d %d", e.State.Wins, e.State.Draws, e.State.Losses)
	}
	b.WriteString("} ")
	b.WriteString(actionsPrefix)
	for i, a := range e.Actions {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d %d %d", int(a.Action.Symbol), a.Action.Index, a.VisitCount)
		if e.Kind == mcts.ValueStats {
			b.WriteByte(' ')
			b.WriteString(formatMean(a.ValueMean))
		} else {
			fmt.Fprintf(&b, " %d %d %d", a.Wins, a.Draws, a.Losses)
		}
	}
	b.WriteByte('}')
	return b.String()
}

// formatMean rounds to six decimals and prints the shortest form that reads
// back to the rounded value, keeping a ".0" on whole numbers: 0.5, -1.0,
// 0.333333, 1e-05.
func formatMean(v float64) string {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 6, 64), 64)
	if err != nil {
		rounded = v
	}
	out := strconv.FormatFloat(rounded, 'g', -1, 64)
	if !strings.ContainsAny(out, ".eIN") {
		out += ".0"
	}
	return out
}

// ParseEvaluation reads a line produced by Format. The statistics flavour is
// taken from the number of fields in the state group.
func ParseEvaluation(line string) (Evaluation, error) {
	line = strings.TrimSpace(line)
	stateBody, rest, err := group(line, statePrefix)
	if err != nil {
		return Evaluation{}, err
	}
	actionsBody, rest, err := group(strings.TrimLeft(rest, " "), actionsPrefix)
	if err != nil {
		return Evaluation{}, err
	}
	if strings.TrimSpace(rest) != "" {
		return Evaluation{}, fmt.Errorf("trailing data after evaluated actions: %q", rest)
	}

	var e Evaluation
	fields := strings.Fields(stateBody)
	switch len(fields) {
	case 5:
		e.Kind = mcts.RolloutStats
	case 3:
		e.Kind = mcts.ValueStats
	default:
		return Evaluation{}, fmt.Errorf("evaluated state has %d fields", len(fields))
	}
	state, err := game.ParseState(fields[0])
	if err != nil {
		return Evaluation{}, err
	}
	e.State.State = *state
	if e.State.VisitCount, err = strconv.Atoi(fields[1]); err != nil {
		return Evaluation{}, fmt.Errorf("state visits: %w", err)
	}
	if e.Kind == mcts.RolloutStats {
		if err := parseInts(fields[2:], &e.State.Wins, &e.State.Draws, &e.State.Losses); err != nil {
			return Evaluation{}, fmt.Errorf("state stats: %w", err)
		}
	} else if e.State.ValueMean, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Evaluation{}, fmt.Errorf("state mean: %w", err)
	}

	if strings.TrimSpace(actionsBody) == "" {
		return e, nil
	}
	groups := strings.Split(actionsBody, ",")
	e.Actions = make([]mcts.EvaluatedAction, 0, len(groups))
	for i, g := range groups {
		a, err := parseAction(g, e.Kind)
		if err != nil {
			return Evaluation{}, fmt.Errorf("action %d: %w", i, err)
		}
		e.Actions = append(e.Actions, a)
	}
	return e, nil
}

func group(s, prefix string) (body, rest string, err error) {
	if !strings.HasPrefix(s, prefix) {
		return "", "", fmt.Errorf("expected %q", prefix)
	}
	s = s[len(prefix):]
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return "", "", fmt.Errorf("unterminated %q", prefix)
	}
	return s[:end], s[end+1:], nil
}

func parseAction(s string, kind mcts.StatsKind) (mcts.EvaluatedAction, error) {
	fields := strings.Fields(s)
	want := 6
	if kind == mcts.ValueStats {
		want = 4
	}
	if len(fields) != want {
		return mcts.EvaluatedAction{}, fmt.Errorf("got %d fields, want %d", len(fields), want)
	}

	var a mcts.EvaluatedAction
	var sym int
	if err := parseInts(fields[:3], &sym, &a.Action.Index, &a.VisitCount); err != nil {
		return a, err
	}
	if sym != int(game.X) && sym != int(game.O) {
		return a, fmt.Errorf("invalid symbol %d", sym)
	}
	if a.Action.Index < 0 || a.Action.Index >= game.NumCells {
		return a, fmt.Errorf("invalid index %d", a.Action.Index)
	}
	a.Action.Symbol = game.Symbol(sym)

	if kind == mcts.ValueStats {
		mean, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return a, err
		}
		a.ValueMean = mean
		return a, nil
	}
	return a, parseInts(fields[3:], &a.Wins, &a.Draws, &a.Losses)
}

func parseInts(fields []string, dst ...*int) error {
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

// WriteEvaluations writes one line per evaluation to path, via a temp file in
// the same directory and a rename.
func WriteEvaluations(path string, evals []Evaluation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create evaluations file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range evals {
		if _, err := w.WriteString(e.Format() + "\n"); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write evaluations: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush evaluations: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close evaluations: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename evaluations: %w", err)
	}
	return nil
}

// ReadEvaluations parses every non-empty line of an evaluations file.
func ReadEvaluations(path string) ([]Evaluation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Evaluation
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := ParseEvaluation(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
