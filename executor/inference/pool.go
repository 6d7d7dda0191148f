package inference

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// OnnxPool splits each batch into contiguous shards and evaluates them in
// parallel, one shard per session. Output order matches input order.
type OnnxPool struct {
	shards []Evaluator
}

// NewPool wraps already constructed evaluators.
func NewPool(shards ...Evaluator) *OnnxPool {
	return &OnnxPool{shards: shards}
}

func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	shards := make([]Evaluator, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClient(modelPath)
		if err != nil {
			p := &OnnxPool{shards: shards}
			_ = p.Close()
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		shards = append(shards, c)
	}
	return &OnnxPool{shards: shards}, nil
}

func (p *OnnxPool) EvaluateBatch(ctx context.Context, inputs [][]float32) ([]Prediction, error) {
	if len(p.shards) == 0 {
		return nil, fmt.Errorf("onnx pool has no sessions")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	n := len(p.shards)
	if n > len(inputs) {
		n = len(inputs)
	}
	if n == 1 {
		return p.shards[0].EvaluateBatch(ctx, inputs)
	}

	out := make([]Prediction, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		lo := i * len(inputs) / n
		hi := (i + 1) * len(inputs) / n
		shard := p.shards[i]
		g.Go(func() error {
			preds, err := shard.EvaluateBatch(gctx, inputs[lo:hi])
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			if len(preds) != hi-lo {
				return fmt.Errorf("shard %d returned %d predictions, want %d", i, len(preds), hi-lo)
			}
			copy(out[lo:hi], preds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *OnnxPool) Stats() RuntimeStats {
	var total RuntimeStats
	for _, s := range p.shards {
		sp, ok := s.(interface{ Stats() RuntimeStats })
		if !ok {
			continue
		}
		st := sp.Stats()
		total.TotalBatches += st.TotalBatches
		total.TotalItems += st.TotalItems
		total.TotalRunNanos += st.TotalRunNanos
		if st.LastBatchSize > total.LastBatchSize {
			total.LastBatchSize = st.LastBatchSize
		}
	}
	total.fillAverages()
	return total
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, s := range p.shards {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
