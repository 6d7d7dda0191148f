package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/uttt/executor/inference"
	"github.com/brensch/uttt/executor/selfplay"
)

const maxRecentGames = 10

type model struct {
	totalTasks  int
	gamesPlayed int64
	skipped     int64
	plies       int64
	stats       inference.RuntimeStats
	startTime   time.Time
	recentGames []string

	updates <-chan selfplay.GameSummary
	runner  *selfplay.Runner
	pool    *inference.OnnxPool
}

func initialModel(updates <-chan selfplay.GameSummary, runner *selfplay.Runner, pool *inference.OnnxPool, totalTasks int) model {
	return model{
		totalTasks: totalTasks,
		startTime:  time.Now(),
		updates:    updates,
		runner:     runner,
		pool:       pool,
	}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForGame(updates <-chan selfplay.GameSummary) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForGame(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.gamesPlayed = m.runner.Games.Load()
		m.skipped = m.runner.Skipped.Load()
		m.plies = m.runner.Plies.Load()
		if m.pool != nil {
			m.stats = m.pool.Stats()
		}
		return m, tickCmd()
	case selfplay.GameSummary:
		line := fmt.Sprintf("worker %d: %s in %d plies (%s) %s",
			msg.WorkerID, msg.Result, msg.Plies, msg.Duration.Round(time.Millisecond), msg.OutputPath)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > maxRecentGames {
			m.recentGames = m.recentGames[:maxRecentGames]
		}
		return m, waitForGame(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	var gamesPerSec, pliesPerSec, inferencesPerSec float64
	if secs := duration.Seconds(); secs >= 1 {
		gamesPerSec = float64(m.gamesPlayed) / secs
		pliesPerSec = float64(m.plies) / secs
		inferencesPerSec = float64(m.stats.TotalItems) / secs
	}

	s := fmt.Sprintf("Games:          %d / %d (skipped %d)\n", m.gamesPlayed, m.totalTasks, m.skipped)
	s += fmt.Sprintf("Plies:          %d\n", m.plies)
	s += fmt.Sprintf("Inferences:     %d\n", m.stats.TotalItems)
	s += fmt.Sprintf("Duration:       %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Games/Sec:      %.2f\n", gamesPerSec)
	s += fmt.Sprintf("Plies/Sec:      %.2f\n", pliesPerSec)
	s += fmt.Sprintf("Inferences/Sec: %.2f\n", inferencesPerSec)
	s += fmt.Sprintf("Batch avg/last: %.1f / %d (%.2fms per run)\n\n", m.stats.AvgBatchSize, m.stats.LastBatchSize, m.stats.AvgRunMs)

	s += "Recent Games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}
