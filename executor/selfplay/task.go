package selfplay

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/brensch/uttt/game"
)

// Task is one game to generate: a starting position, the search budget and
// the file the evaluations are written to.
type Task struct {
	State       game.GameState
	Simulations int
	Exploration float64
	Seed        int64
	OutputPath  string
}

// ParseTask reads "<93 digits> <simulations> <exploration> <seed> <outputPath>".
func ParseTask(line string) (Task, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return Task{}, fmt.Errorf("task needs 5 fields, got %d", len(fields))
	}

	state, err := game.ParseState(fields[0])
	if err != nil {
		return Task{}, fmt.Errorf("task state: %w", err)
	}
	sims, err := strconv.Atoi(fields[1])
	if err != nil || sims <= 0 {
		return Task{}, fmt.Errorf("task simulations %q must be a positive integer", fields[1])
	}
	exploration, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Task{}, fmt.Errorf("task exploration: %w", err)
	}
	seed, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("task seed: %w", err)
	}

	return Task{
		State:       *state,
		Simulations: sims,
		Exploration: exploration,
		Seed:        seed,
		OutputPath:  fields[4],
	}, nil
}

func (t Task) String() string {
	return fmt.Sprintf("%s %d %s %d %s",
		t.State.Digits(), t.Simulations, strconv.FormatFloat(t.Exploration, 'g', -1, 64), t.Seed, t.OutputPath)
}

// LoadTasks reads one task per line. Blank lines and lines starting with '#'
// are skipped.
func LoadTasks(path string) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []Task
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := ParseTask(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		tasks = append(tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return tasks, nil
}
