// Command nmcts-evaluate runs one network guided search from a given state
// and writes the root statistics as a single evaluation record.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brensch/uttt/executor/inference"
	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/executor/selfplay"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/rules"
	"github.com/brensch/uttt/store"
)

func main() {
	modelPath := flag.String("model", filepath.Join("models", "uttt_net.onnx"), "Path to ONNX model")
	stateDigits := flag.String("state", game.NewGameState().Digits(), "State as 93 digits")
	sims := flag.Int("simulations", 800, "Number of simulations")
	exploration := flag.Float64("exploration", 1.25, "Exploration constant")
	temperature := flag.Float64("temperature", 1, "Prior softmax temperature")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	out := flag.String("out", "", "Output file; stdout when empty")
	show := flag.Bool("show", false, "Print the board and the visit counts to stderr")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: text, json or pretty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		slog.Error("configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	state, err := game.ParseState(*stateDigits)
	if err != nil {
		logger.Error("parse state", "error", err)
		os.Exit(2)
	}
	if err := rules.VerifyState(state); err != nil {
		logger.Error("invalid state", "error", err)
		os.Exit(2)
	}
	if state.IsTerminated() {
		logger.Error("state is terminated", "result", state.Result().String())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := inference.NewOnnxClient(*modelPath)
	if err != nil {
		logger.Error("load model", "model", *modelPath, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	cfg := mcts.Config{Simulations: *sims, Cpuct: *exploration, Temperature: *temperature}
	search := mcts.NewPUCT(state, cfg, inference.SinglePredictor{Evaluator: client}, rand.New(rand.NewSource(*seed)))

	start := time.Now()
	if err := search.Run(ctx); err != nil {
		logger.Error("search", "error", err)
		os.Exit(1)
	}
	actions, err := search.EvaluatedActions()
	if err != nil {
		logger.Error("export", "error", err)
		os.Exit(1)
	}
	eval := store.Evaluation{Kind: search.Kind(), State: search.EvaluatedState(), Actions: actions}
	logger.Info("search finished", "simulations", *sims, "took", time.Since(start).Round(time.Millisecond))

	if *show {
		best, _ := mcts.SelectAction(actions, mcts.SelectArgmax, rand.New(rand.NewSource(*seed)))
		fmt.Fprintln(os.Stderr, selfplay.RenderBoard(state))
		fmt.Fprintln(os.Stderr, selfplay.FormatVisits(actions, best))
	}

	if *out == "" {
		fmt.Println(eval.Format())
		return
	}
	if err := store.WriteEvaluations(*out, []store.Evaluation{eval}); err != nil {
		logger.Error("write evaluation", "out", *out, "error", err)
		os.Exit(1)
	}
}
