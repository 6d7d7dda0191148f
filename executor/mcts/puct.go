package mcts

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/game"
)

// minPrior keeps a child with a vanishing prior reachable.
const minPrior = 0.01

// Predictor evaluates one position: 81 policy logits laid out on the 9x9
// grid (convert.PolicyIndex) and a value for the player to move.
type Predictor interface {
	Predict(ctx context.Context, state *game.GameState) ([]float32, float32, error)
}

// PUCT is the network guided search.
type PUCT struct {
	Config Config
	Client Predictor
	Rng    *rand.Rand

	tree *Tree
}

func NewPUCT(state *game.GameState, cfg Config, client Predictor, rng *rand.Rand) *PUCT {
	return &PUCT{Config: cfg, Client: client, Rng: rng, tree: NewTree(state)}
}

func (m *PUCT) Kind() StatsKind { return ValueStats }
func (m *PUCT) Tree() *Tree { return m.tree }

func (m *PUCT) Synchronize(state *game.GameState) { m.tree.Synchronize(state) }

// Run simulates until the root has been visited Config.Simulations times.
func (m *PUCT) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	remaining := m.Config.Simulations - m.tree.Root.VisitCount
	for i := 0; i < remaining; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Simulate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Simulate runs one select, evaluate, expand, backup cycle. A failed
// prediction leaves the tree untouched.
func (m *PUCT) Simulate(ctx context.Context) error {
	path := selectPath(m.tree.Root, m.Rng, m.score)
	leaf := path[len(path)-1]
	if err := m.evaluate(ctx, leaf); err != nil {
		return err
	}
	backup(path, leaf.StateValue)
	return nil
}

func (m *PUCT) score(parent, child *Node) float64 {
	q := -child.ValueMean
	u := m.Config.Cpuct * math.Max(child.PriorProb, minPrior) *
		math.Sqrt(float64(parent.VisitCount)) / float64(1+child.VisitCount)
	return q + u
}

func (m *PUCT) evaluate(ctx context.Context, leaf *Node) error {
	if leaf.IsTerminal() {
		if leaf.State.Result() == game.Draw {
			leaf.StateValue = 0
		} else {
			// The player to move has just lost.
			leaf.StateValue = -1
		}
		return nil
	}

	policy, value, err := m.Client.Predict(ctx, &leaf.State)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	if len(policy) < convert.PolicySize {
		return fmt.Errorf("predict: policy has %d logits, want %d", len(policy), convert.PolicySize)
	}
	if err := leaf.Expand(); err != nil {
		return err
	}

	logits := make([]float64, len(leaf.Children))
	for i, child := range leaf.Children {
		logits[i] = float64(policy[convert.PolicyIndex(child.Action.Index)])
	}
	priors := softmax(logits, m.Config.Temperature)
	for i, child := range leaf.Children {
		child.PriorProb = priors[i]
	}
	leaf.StateValue = float64(value)
	return nil
}

// backup walks from the leaf to the root flipping the sign at every level.
func backup(path []*Node, value float64) {
	sign := 1.0
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		n.VisitCount++
		n.ValueSum += sign * value
		n.ValueMean = n.ValueSum / float64(n.VisitCount)
		sign = -sign
	}
}

func softmax(logits []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0] / temperature
	for _, l := range logits[1:] {
		if v := l / temperature; v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l/temperature - maxV)
		sum += out[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func (m *PUCT) EvaluatedState() EvaluatedState {
	root := m.tree.Root
	return EvaluatedState{
		State:      root.State,
		VisitCount: root.VisitCount,
		ValueMean:  root.ValueMean,
	}
}

func (m *PUCT) EvaluatedActions() ([]EvaluatedAction, error) {
	root := m.tree.Root
	if err := checkEvaluable(root); err != nil {
		return nil, err
	}
	out := make([]EvaluatedAction, len(root.Children))
	for i, child := range root.Children {
		out[i] = EvaluatedAction{
			Action:     *child.Action,
			VisitCount: child.VisitCount,
			ValueMean:  -child.ValueMean,
		}
	}
	return out, nil
}
