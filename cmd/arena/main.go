// Command arena plays two searchers against each other. A side with a model
// uses the network guided search; a side without one uses rollouts. Every
// start position is played twice so each side gets both colours.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brensch/uttt/executor/arena"
	"github.com/brensch/uttt/executor/inference"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/store"
)

type side struct {
	model       *string
	simulations *int
	exploration *float64
}

func sideFlags(prefix string, sims int) side {
	return side{
		model:       flag.String(prefix+"-model", "", "ONNX model for side "+prefix+"; rollouts when empty"),
		simulations: flag.Int(prefix+"-simulations", sims, "Simulations per move for side "+prefix),
		exploration: flag.Float64(prefix+"-exploration", 2.0, "Exploration constant for side "+prefix),
	}
}

func main() {
	a := sideFlags("a", 10000)
	b := sideFlags("b", 10000)
	startsPath := flag.String("starts", "", "File of start states, one per line; the empty board when unset")
	seed := flag.Int64("seed", 10111213, "Base random seed; game n uses seed+n")
	outDir := flag.String("out-dir", "", "If set, write each game's evaluations here")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: text, json or pretty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		slog.Error("configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	starts := []game.GameState{*game.NewGameState()}
	if *startsPath != "" {
		if starts, err = arena.LoadStates(*startsPath); err != nil {
			logger.Error("load start states", "error", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	contender := func(name string, s side) (arena.Contender, error) {
		cfg := mcts.Config{Simulations: *s.simulations, Cpuct: *s.exploration}
		if *s.model == "" {
			return arena.Contender{Name: name + ":mcts", New: func(state *game.GameState, rng *rand.Rand) mcts.Searcher {
				return mcts.NewUCT(state, cfg, rng)
			}}, nil
		}
		client, err := inference.NewOnnxClient(*s.model)
		if err != nil {
			return arena.Contender{}, fmt.Errorf("side %s: %w", name, err)
		}
		closers = append(closers, client)
		predictor := inference.SinglePredictor{Evaluator: client}
		return arena.Contender{Name: name + ":nmcts", New: func(state *game.GameState, rng *rand.Rand) mcts.Searcher {
			return mcts.NewPUCT(state, cfg, predictor, rng)
		}}, nil
	}
	ca, err := contender("a", a)
	if err != nil {
		logger.Error("load model", "error", err)
		os.Exit(1)
	}
	cb, err := contender("b", b)
	if err != nil {
		logger.Error("load model", "error", err)
		os.Exit(1)
	}

	logger.Info("starting match", "a", ca.Name, "b", cb.Name, "starts", len(starts))
	start := time.Now()
	n := 0
	sum, _, err := arena.Match(ctx, starts, ca, cb, *seed, func(g *arena.Game, running arena.Summary) {
		logger.Info("game finished",
			"game", n, "x", g.X, "o", g.O, "result", g.Final.Result().String(), "plies", len(g.Actions),
			"a_as_x", tallyString(running.AsX), "a_as_o", tallyString(running.AsO), "a_total", tallyString(running.Total()))
		if *outDir != "" {
			path := filepath.Join(*outDir, fmt.Sprintf("game_%04d.txt", n))
			if err := store.WriteEvaluations(path, g.Evaluations); err != nil {
				logger.Error("write game", "path", path, "error", err)
			}
		}
		n++
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("match failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s as X vs %s as O (%d): %s\n", ca.Name, cb.Name, sum.AsX.Games(), tallyString(sum.AsX))
	fmt.Printf("%s as O vs %s as X (%d): %s\n", ca.Name, cb.Name, sum.AsO.Games(), tallyString(sum.AsO))
	fmt.Printf("%s vs %s (%d): %s\n", ca.Name, cb.Name, sum.Total().Games(), tallyString(sum.Total()))
	logger.Info("match finished", "took", time.Since(start).Round(time.Second))
}

func tallyString(t arena.Tally) string {
	return fmt.Sprintf("%d %d %d", t.Wins, t.Draws, t.Losses)
}
