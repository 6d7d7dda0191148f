// Command mcts-generate plays tasks with the rollout search. It needs no
// model, so every worker searches on its own CPU.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/uttt/executor/selfplay"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/store"
)

func main() {
	tasksPath := flag.String("tasks", "", "Task file, one task per line")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of concurrent games")
	outDir := flag.String("out-dir", "", "If set, also write training parquet batches here")
	gamesPerFlush := flag.Int("games-per-flush", store.DefaultGamesPerFlush, "Number of games to buffer per parquet flush")
	writtenLogPath := flag.String("written-log", "data/written.log", "Log of finished task outputs; finished tasks are skipped")
	trace := flag.Bool("trace", false, "Log every ply of worker 0")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: text, json or pretty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		slog.Error("configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if *tasksPath == "" {
		logger.Error("-tasks is required")
		os.Exit(2)
	}
	if *workers <= 0 {
		logger.Error("-workers must be positive", "workers", *workers)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *tasksPath, *workers, *outDir, *gamesPerFlush, *writtenLogPath, *trace); err != nil {
		logger.Error("generation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, tasksPath string, workers int, outDir string, gamesPerFlush int, writtenLogPath string, trace bool) error {
	tasks, err := selfplay.LoadTasks(tasksPath)
	if err != nil {
		return err
	}
	written, err := store.OpenWrittenLog(writtenLogPath)
	if err != nil {
		return err
	}
	defer written.Close()

	runner := &selfplay.Runner{
		Logger:  logger,
		Written: written,
		Source:  "mcts",
		Trace:   trace,
	}

	var rows chan []store.TrainingRow
	writerDone := make(chan struct{})
	if outDir != "" {
		rows = make(chan []store.TrainingRow, workers)
		runner.Rows = rows
		go func() {
			store.FlushGames(logger, outDir, gamesPerFlush, rows)
			close(writerDone)
		}()
	} else {
		close(writerDone)
	}

	logger.Info("starting generation", "tasks", len(tasks), "already_written", written.Count(), "workers", workers)
	start := time.Now()

	// Tasks are handed out in order; each slot is a worker ID.
	slots := make(chan int, workers)
	for i := 0; i < workers; i++ {
		slots <- i
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var failed atomic.Int64
	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		workerID := <-slots
		g.Go(func() error {
			defer func() { slots <- workerID }()
			err := runner.RunRollout(gctx, workerID, task)
			if err != nil && gctx.Err() == nil {
				failed.Add(1)
				logger.Error("task failed", "worker_id", workerID, "task", task.OutputPath, "error", err)
				return nil
			}
			return err
		})
	}
	runErr := g.Wait()

	if rows != nil {
		close(rows)
	}
	<-writerDone

	logger.Info("generation finished",
		"games", runner.Games.Load(), "skipped", runner.Skipped.Load(), "failed", failed.Load(), "plies", runner.Plies.Load(),
		"took", time.Since(start).Round(time.Second))
	if errors.Is(runErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return runErr
}
