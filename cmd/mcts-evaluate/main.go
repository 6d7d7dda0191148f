// Command mcts-evaluate runs one rollout search from a given state and writes
// the root statistics as a single evaluation record.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/executor/selfplay"
	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/rules"
	"github.com/brensch/uttt/store"
)

func main() {
	stateDigits := flag.String("state", game.NewGameState().Digits(), "State as 93 digits")
	sims := flag.Int("simulations", 100000, "Number of simulations")
	exploration := flag.Float64("exploration", math.Sqrt2, "Exploration constant")
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

	rng := rand.New(rand.NewSource(*seed))
	search := mcts.NewUCT(state, mcts.Config{Simulations: *sims, Cpuct: *exploration}, rng)

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
	logger.Info("search finished", "simulations", *sims, "tree_size", search.Tree().Size(), "took", time.Since(start).Round(time.Millisecond))

	if *show {
		best, _ := mcts.SelectAction(actions, mcts.SelectArgmax, rng)
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
