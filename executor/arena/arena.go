// Package arena plays two searchers against each other from a list of start
// positions, each side taking both colours.
package arena

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
	"github.com/brensch/uttt/store"
)

// Contender builds a fresh searcher for every game it plays.
type Contender struct {
	Name string
	New  func(state *game.GameState, rng *rand.Rand) mcts.Searcher
}

// Game is one finished head-to-head game.
type Game struct {
	Start       game.GameState
	X, O        string
	Evaluations []store.Evaluation
	Actions     []game.Action
	Final       game.GameState
}

// PlayGame alternates x and o from start until the game ends. Each side
// searches only on its own turn, picks the most visited action and both trees
// follow every move.
func PlayGame(ctx context.Context, start *game.GameState, x, o mcts.Searcher, rng *rand.Rand) (*Game, error) {
	state := *start
	if err := rules.VerifyState(&state); err != nil {
		return nil, fmt.Errorf("start state: %w", err)
	}

	g := &Game{Start: state}
	for ply := 0; !state.IsTerminated(); ply++ {
		mover := x
		if state.NextSymbol() == game.O {
			mover = o
		}
		if err := mover.Run(ctx); err != nil {
			return nil, fmt.Errorf("ply %d: search: %w", ply, err)
		}
		actions, err := mover.EvaluatedActions()
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		action, err := mcts.SelectAction(actions, mcts.SelectArgmax, rng)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		g.Evaluations = append(g.Evaluations, store.Evaluation{Kind: mover.Kind(), State: mover.EvaluatedState(), Actions: actions})
		if err := rules.Apply(&state, action, true); err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		g.Actions = append(g.Actions, action)
		x.Synchronize(&state)
		o.Synchronize(&state)
	}
	g.Final = state
	return g, nil
}

// Tally counts results from the first contender's point of view.
type Tally struct {
	Wins, Draws, Losses int
}

func (t Tally) Games() int { return t.Wins + t.Draws + t.Losses }

func (t *Tally) add(result, side game.Symbol) {
	switch result {
	case side:
		t.Wins++
	case game.Draw:
		t.Draws++
	default:
		t.Losses++
	}
}

// Summary splits the first contender's results by the colour it played.
type Summary struct {
	AsX, AsO Tally
}

func (s Summary) Total() Tally {
	return Tally{
		Wins:   s.AsX.Wins + s.AsO.Wins,
		Draws:  s.AsX.Draws + s.AsO.Draws,
		Losses: s.AsX.Losses + s.AsO.Losses,
	}
}

// Match plays a as X against b as O, then a as O against b as X, for every
// start position. Every game gets its own RNG seeded from seed and the game
// number, shared by both searchers and the tie-break. onGame, if set, is
// called after each game with the running summary.
func Match(ctx context.Context, starts []game.GameState, a, b Contender, seed int64, onGame func(*Game, Summary)) (Summary, []*Game, error) {
	var sum Summary
	games := make([]*Game, 0, 2*len(starts))
	for i := range starts {
		for _, aIsX := range []bool{true, false} {
			n := len(games)
			rng := rand.New(rand.NewSource(seed + int64(n)))
			start := starts[i]

			sa := a.New(&start, rng)
			sb := b.New(&start, rng)
			x, o, xName, oName := sa, sb, a.Name, b.Name
			if !aIsX {
				x, o, xName, oName = sb, sa, b.Name, a.Name
			}

			g, err := PlayGame(ctx, &start, x, o, rng)
			if err != nil {
				return sum, games, fmt.Errorf("start %d, %s as X: %w", i, xName, err)
			}
			g.X, g.O = xName, oName
			if aIsX {
				sum.AsX.add(g.Final.Result(), game.X)
			} else {
				sum.AsO.add(g.Final.Result(), game.O)
			}
			games = append(games, g)
			if onGame != nil {
				onGame(g, sum)
			}
		}
	}
	return sum, games, nil
}

// LoadStates reads one 93-digit state per line, skipping blank lines and
// lines starting with '#'. Every state must verify.
func LoadStates(path string) ([]game.GameState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []game.GameState
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := game.ParseState(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if err := rules.VerifyState(s); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		out = append(out, *s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
