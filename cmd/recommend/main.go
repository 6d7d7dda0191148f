// Command recommend reads an evaluations file and picks a move for one of its
// positions from the recorded statistics.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/brensch/uttt/executor/mcts"
	"github.com/brensch/uttt/executor/selfplay"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/store"
)

func main() {
	in := flag.String("in", "", "Evaluations file")
	line := flag.Int("line", -1, "Record to use, counting non-empty lines from 0; negative counts from the end")
	method := flag.String("method", mcts.SelectArgmax, "Selection method: argmax, sample or random")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	show := flag.Bool("show", false, "Print the board and the visit counts")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: text, json or pretty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		slog.Error("configure logging", "error", err)
		os.Exit(1)
	}

	if *in == "" {
		logger.Error("-in is required")
		os.Exit(2)
	}
	evals, err := store.ReadEvaluations(*in)
	if err != nil {
		logger.Error("read evaluations", "error", err)
		os.Exit(1)
	}
	idx := *line
	if idx < 0 {
		idx += len(evals)
	}
	if idx < 0 || idx >= len(evals) {
		logger.Error("line out of range", "line", *line, "records", len(evals))
		os.Exit(2)
	}
	eval := evals[idx]

	action, err := mcts.SelectAction(eval.Actions, *method, rand.New(rand.NewSource(*seed)))
	if err != nil {
		logger.Error("select action", "error", err)
		os.Exit(1)
	}

	if *show {
		fmt.Println(selfplay.RenderBoard(&eval.State.State))
		fmt.Println(selfplay.FormatVisits(eval.Actions, action))
	}
	fmt.Println(action)
}
