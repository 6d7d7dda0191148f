package inference

import (
	"context"
	"fmt"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/game"
)

// Prediction is the network output for one position. Policy holds the 81
// logits in 9x9 grid order (see convert.PolicyIndex).
type Prediction struct {
	Policy []float32
	Value  float32
}

// Evaluator runs one forward pass over a batch of encoded positions, each of
// length convert.FloatSize. Results come back in input order.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, inputs [][]float32) ([]Prediction, error)
}

// SinglePredictor evaluates one state at a time by sending batches of one.
// It is the adapter used when no broker sits between search and model.
type SinglePredictor struct {
	Evaluator Evaluator
}

func (p SinglePredictor) Predict(ctx context.Context, state *game.GameState) ([]float32, float32, error) {
	buf := convert.StateToFloat32(state)
	defer convert.PutFloatBuffer(buf)

	out, err := p.Evaluator.EvaluateBatch(ctx, [][]float32{*buf})
	if err != nil {
		return nil, 0, err
	}
	if len(out) != 1 {
		return nil, 0, fmt.Errorf("evaluator returned %d predictions for 1 input", len(out))
	}
	return out[0].Policy, out[0].Value, nil
}
