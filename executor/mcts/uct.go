package mcts

import (
	"context"
	"math"
	"math/rand"

	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

// Config holds search configuration shared by both policies.
type Config struct {
	// Simulations is the root visit count Run tops the tree up to.
	Simulations int
	// Cpuct is the exploration strength.
	Cpuct float64
	// Temperature divides policy logits before the prior softmax. Zero means 1.
	Temperature float64
}

// UCT is plain Monte Carlo tree search with uniformly random playouts.
type UCT struct {
	Config Config
	Rng    *rand.Rand

	tree *Tree
}

func NewUCT(state *game.GameState, cfg Config, rng *rand.Rand) *UCT {
	return &UCT{Config: cfg, Rng: rng, tree: NewTree(state)}
}

func (m *UCT) Kind() StatsKind { return RolloutStats }
func (m *UCT) Tree() *Tree { return m.tree }

func (m *UCT) Synchronize(state *game.GameState) { m.tree.Synchronize(state) }

// Run simulates until the root has been visited Config.Simulations times.
func (m *UCT) Run(ctx context.Context) error {
	remaining := m.Config.Simulations - m.tree.Root.VisitCount
	for i := 0; i < remaining; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if err := m.Simulate(); err != nil {
			return err
		}
	}
	return nil
}

// Simulate runs one select, expand, playout, backup cycle.
func (m *UCT) Simulate() error {
	path := selectPath(m.tree.Root, m.Rng, m.score)
	leaf := path[len(path)-1]
	if !leaf.IsTerminal() {
		if err := leaf.Expand(); err != nil {
			return err
		}
	}

	var xWins, oWins, draws int
	switch playout(&leaf.State, m.Rng) {
	case game.X:
		xWins = 1
	case game.O:
		oWins = 1
	default:
		draws = 1
	}

	for _, n := range path {
		n.VisitCount++
		n.XWins += xWins
		n.OWins += oWins
		n.Draws += draws
	}
	return nil
}

func (m *UCT) score(parent, child *Node) float64 {
	if child.VisitCount == 0 {
		return math.Inf(1)
	}
	n := float64(child.VisitCount)
	wins, losses := child.XWins, child.OWins
	if child.Action.Symbol == game.O {
		wins, losses = losses, wins
	}
	exploitation := float64(wins-losses) / n
	exploration := m.Config.Cpuct * math.Sqrt(math.Log(float64(parent.VisitCount))/n)
	return exploitation + exploration
}

// playout plays uniformly random moves from a copy of state until the game
// ends and returns the result.
func playout(state *game.GameState, rng *rand.Rand) game.Symbol {
	s := *state
	for !s.IsTerminated() {
		legal := rules.LegalIndexes(&s)
		idx := legal[rng.Intn(len(legal))]
		_ = rules.Apply(&s, game.Action{Symbol: s.NextSymbol(), Index: idx}, false)
	}
	return s.Result()
}

func (m *UCT) EvaluatedState() EvaluatedState {
	root := m.tree.Root
	wins, losses := root.XWins, root.OWins
	if root.State.NextSymbol() == game.O {
		wins, losses = losses, wins
	}
	return EvaluatedState{
		State:      root.State,
		VisitCount: root.VisitCount,
		Wins:       wins,
		Draws:      root.Draws,
		Losses:     losses,
	}
}

func (m *UCT) EvaluatedActions() ([]EvaluatedAction, error) {
	root := m.tree.Root
	if err := checkEvaluable(root); err != nil {
		return nil, err
	}
	out := make([]EvaluatedAction, len(root.Children))
	for i, child := range root.Children {
		wins, losses := child.XWins, child.OWins
		if child.Action.Symbol == game.O {
			wins, losses = losses, wins
		}
		out[i] = EvaluatedAction{
			Action:     *child.Action,
			VisitCount: child.VisitCount,
			Wins:       wins,
			Draws:      child.Draws,
			Losses:     losses,
		}
	}
	return out, nil
}
