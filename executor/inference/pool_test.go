package inference

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/game"
)

// sumEvaluator returns the sum of each input as its value and records the
// batch sizes it saw.
type sumEvaluator struct {
	mu     sync.Mutex
	sizes  []int
	err    error
	closed bool
}

func (e *sumEvaluator) EvaluateBatch(_ context.Context, inputs [][]float32) ([]Prediction, error) {
	e.mu.Lock()
	e.sizes = append(e.sizes, len(inputs))
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([]Prediction, len(inputs))
	for i, in := range inputs {
		var sum float32
		for _, v := range in {
			sum += v
		}
		out[i] = Prediction{Policy: make([]float32, PolicySize), Value: sum}
	}
	return out, nil
}

func (e *sumEvaluator) Stats() RuntimeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := RuntimeStats{TotalBatches: int64(len(e.sizes))}
	for _, s := range e.sizes {
		st.TotalItems += int64(s)
		if int64(s) > st.LastBatchSize {
			st.LastBatchSize = int64(s)
		}
	}
	return st
}

func (e *sumEvaluator) Close() error {
	e.closed = true
	return nil
}

func inputsWithValues(n int) [][]float32 {
	inputs := make([][]float32, n)
	for i := range inputs {
		inputs[i] = []float32{float32(i)}
	}
	return inputs
}

func TestOnnxPool_ShardsPreserveOrder(t *testing.T) {
	a, b, c := &sumEvaluator{}, &sumEvaluator{}, &sumEvaluator{}
	p := NewPool(a, b, c)

	out, err := p.EvaluateBatch(context.Background(), inputsWithValues(10))
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, pred := range out {
		assert.Equal(t, float32(i), pred.Value)
	}
	assert.Equal(t, []int{3}, a.sizes)
	assert.Equal(t, []int{3}, b.sizes)
	assert.Equal(t, []int{4}, c.sizes)

	st := p.Stats()
	assert.Equal(t, int64(3), st.TotalBatches)
	assert.Equal(t, int64(10), st.TotalItems)
	assert.Equal(t, int64(4), st.LastBatchSize)
	assert.InDelta(t, 10.0/3, st.AvgBatchSize, 1e-9)
}

func TestOnnxPool_SmallBatchUsesFewerShards(t *testing.T) {
	a, b, c := &sumEvaluator{}, &sumEvaluator{}, &sumEvaluator{}
	p := NewPool(a, b, c)

	out, err := p.EvaluateBatch(context.Background(), inputsWithValues(2))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []int{1}, a.sizes)
	assert.Equal(t, []int{1}, b.sizes)
	assert.Empty(t, c.sizes)

	out, err = p.EvaluateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOnnxPool_ShardErrorFailsBatch(t *testing.T) {
	boom := errors.New("boom")
	p := NewPool(&sumEvaluator{}, &sumEvaluator{err: boom})
	_, err := p.EvaluateBatch(context.Background(), inputsWithValues(4))
	assert.ErrorIs(t, err, boom)

	_, err = NewPool().EvaluateBatch(context.Background(), inputsWithValues(1))
	assert.Error(t, err)
}

func TestOnnxPool_CloseClosesShards(t *testing.T) {
	a, b := &sumEvaluator{}, &sumEvaluator{}
	require.NoError(t, NewPool(a, b).Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSinglePredictor_EncodesState(t *testing.T) {
	ev := &sumEvaluator{}
	p := SinglePredictor{Evaluator: ev}

	// X to move on an empty board: plane 2 is all +1 and plane 3 marks all
	// 81 cells legal.
	policy, value, err := p.Predict(context.Background(), game.NewGameState())
	require.NoError(t, err)
	assert.Len(t, policy, convert.PolicySize)
	assert.Equal(t, float32(2*game.NumCells), value)
	assert.Equal(t, []int{1}, ev.sizes)
}

func TestSinglePredictor_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := SinglePredictor{Evaluator: &sumEvaluator{err: boom}}.Predict(context.Background(), game.NewGameState())
	assert.ErrorIs(t, err, boom)
}
