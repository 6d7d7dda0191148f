// Package broker lets many concurrent searches share one evaluator. Workers
// post encoded positions to a single broker goroutine, which gathers them into
// batches, makes one evaluator call per batch and routes each result back to
// the worker that asked for it.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/uttt/executor/convert"
	"github.com/brensch/uttt/executor/inference"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
)

const DefaultBatchTimeout = time.Millisecond

type Config struct {
	Workers      int
	BatchTimeout time.Duration
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Handler runs one task on a worker. The predictor it receives is only valid
// for the duration of the call.
type Handler[T any] func(ctx context.Context, workerID int, task T, predictor mcts.Predictor) error

type request struct {
	workerID int
	input    *[]float32
}

type result struct {
	pred inference.Prediction
	err  error
}

type broker[T any] struct {
	cfg       Config
	evaluator inference.Evaluator
	handle    Handler[T]

	tasks    []chan *T
	results  []chan result
	exited   []chan struct{}
	requests chan request
	idle     chan int
}

// Run hands out tasks to cfg.Workers workers until every task has been
// processed, then stops each worker with a nil task. A failing task is logged
// and counted; the worker moves on to the next one. Run returns early with the
// context error if ctx is cancelled.
func Run[T any](ctx context.Context, cfg Config, evaluator inference.Evaluator, tasks []T, handle Handler[T]) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("broker needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &broker[T]{
		cfg:       cfg,
		evaluator: evaluator,
		handle:    handle,
		tasks:     make([]chan *T, cfg.Workers),
		results:   make([]chan result, cfg.Workers),
		exited:    make([]chan struct{}, cfg.Workers),
		requests:  make(chan request, cfg.Workers),
		idle:      make(chan int, cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		b.tasks[i] = make(chan *T, 1)
		b.results[i] = make(chan result, 1)
		b.exited[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			b.worker(gctx, i)
			return nil
		})
	}
	g.Go(func() error {
		return b.loop(gctx, tasks)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (b *broker[T]) worker(ctx context.Context, id int) {
	defer close(b.exited[id])
	client := &workerClient[T]{b: b, id: id}
	log := b.cfg.Logger.With("worker_id", id)

	for {
		select {
		case b.idle <- id:
		case <-ctx.Done():
			return
		}

		var task *T
		select {
		case task = <-b.tasks[id]:
		case <-ctx.Done():
			return
		}
		if task == nil {
			return
		}

		err := b.handle(ctx, id, *task, client)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("task failed", "error", err)
		}
		b.cfg.Metrics.task(err)
	}
}

func (b *broker[T]) loop(ctx context.Context, tasks []T) error {
	live := b.cfg.Workers
	next := 0
	b.cfg.Metrics.setLive(live)

	timer := time.NewTimer(b.cfg.BatchTimeout)
	timer.Stop()
	defer timer.Stop()

	batch := make([]request, 0, b.cfg.Workers)
	inputs := make([][]float32, 0, b.cfg.Workers)

	for live > 0 {
		// Hand out work to everyone who is waiting for it.
	drain:
		for {
			select {
			case id := <-b.idle:
				if next < len(tasks) {
					b.tasks[id] <- &tasks[next]
					next++
					continue
				}
				b.tasks[id] <- nil
				select {
				case <-b.exited[id]:
				case <-ctx.Done():
					return ctx.Err()
				}
				live--
				b.cfg.Metrics.setLive(live)
			default:
				break drain
			}
		}
		if live == 0 {
			break
		}

		// One collection window per round, however many requests arrive in it.
		batch = batch[:0]
		timer.Reset(b.cfg.BatchTimeout)
	collect:
		for len(batch) < live {
			select {
			case r := <-b.requests:
				batch = append(batch, r)
			case <-timer.C:
				if len(batch) > 0 {
					b.cfg.Metrics.timeout()
				}
				break collect
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		timer.Stop()
		if len(batch) == 0 {
			continue
		}

		inputs = inputs[:0]
		for _, r := range batch {
			inputs = append(inputs, *r.input)
		}
		start := time.Now()
		preds, err := b.evaluator.EvaluateBatch(ctx, inputs)
		if err == nil && len(preds) != len(batch) {
			err = fmt.Errorf("evaluator returned %d predictions for %d inputs", len(preds), len(batch))
		}
		b.cfg.Metrics.observeBatch(len(batch), time.Since(start), err)

		for i, r := range batch {
			convert.PutFloatBuffer(r.input)
			if err != nil {
				b.results[r.workerID] <- result{err: err}
				continue
			}
			b.results[r.workerID] <- result{pred: preds[i]}
		}
	}
	return nil
}

// workerClient is the Predictor a worker's search sees. Each call is one
// request to the broker followed by a wait on the worker's result channel.
type workerClient[T any] struct {
	b  *broker[T]
	id int
}

func (c *workerClient[T]) Predict(ctx context.Context, state *game.GameState) ([]float32, float32, error) {
	input := convert.StateToFloat32(state)
	select {
	case c.b.requests <- request{workerID: c.id, input: input}:
	case <-ctx.Done():
		convert.PutFloatBuffer(input)
		return nil, 0, ctx.Err()
	}

	select {
	case r := <-c.b.results[c.id]:
		if r.err != nil {
			return nil, 0, fmt.Errorf("evaluate: %w", r.err)
		}
		return r.pred.Policy, r.pred.Value, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}
