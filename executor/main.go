// Command executor generates self-play games with the network guided search.
// Every worker plays tasks from a task file; their network calls are batched
// by a single broker goroutine in front of the ONNX sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brensch/uttt/executor/broker"
	"github.com/brensch/uttt/executor/inference"
	"github.com/brensch/uttt/executor/monitor"
	"github.com/brensch/uttt/executor/selfplay"
	"github.com/brensch/uttt/logging"
	"github.com/brensch/uttt/store"
)

func main() {
	modelPath := flag.String("model", "models/uttt_net.onnx", "Path to the ONNX policy/value network")
	tasksPath := flag.String("tasks", "", "Task file, one task per line")
	workers := flag.Int("workers", 64, "Number of concurrent self-play workers")
	batchTimeout := flag.Duration("batch-timeout", broker.DefaultBatchTimeout, "Max time the broker waits for a batch to fill")
	onnxSessions := flag.Int("onnx-sessions", 1, "ONNX Runtime sessions; each batch is split across them")
	outDir := flag.String("out-dir", "data/generated", "Output directory for training parquet batches")
	gamesPerFlush := flag.Int("games-per-flush", store.DefaultGamesPerFlush, "Number of games to buffer per parquet flush")
	writtenLogPath := flag.String("written-log", "data/written.log", "Log of finished task outputs; finished tasks are skipped")
	monitorAddr := flag.String("monitor-addr", "", "If set, serve /ws and /metrics on this address")
	useTUI := flag.Bool("tui", false, "Show a live progress view; logs go to executor.log")
	trace := flag.Bool("trace", false, "Log every ply of worker 0")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: text, json or pretty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	var logOut io.Writer = os.Stderr
	if *useTUI {
		f, err := os.OpenFile("executor.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("open log file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(logOut, *logFormat, *logLevel)
	if err != nil {
		slog.Error("configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(logger, config{
		modelPath:     *modelPath,
		tasksPath:     *tasksPath,
		workers:       *workers,
		batchTimeout:  *batchTimeout,
		onnxSessions:  *onnxSessions,
		outDir:        *outDir,
		gamesPerFlush: *gamesPerFlush,
		writtenLog:    *writtenLogPath,
		monitorAddr:   *monitorAddr,
		tui:           *useTUI,
		trace:         *trace,
	}); err != nil {
		logger.Error("executor failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	modelPath     string
	tasksPath     string
	workers       int
	batchTimeout  time.Duration
	onnxSessions  int
	outDir        string
	gamesPerFlush int
	writtenLog    string
	monitorAddr   string
	tui           bool
	trace         bool
}

func run(logger *slog.Logger, cfg config) error {
	if cfg.tasksPath == "" {
		return errors.New("-tasks is required")
	}
	tasks, err := selfplay.LoadTasks(cfg.tasksPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.modelPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := inference.NewOnnxClientPool(cfg.modelPath, cfg.onnxSessions)
	if err != nil {
		return err
	}
	defer pool.Close()

	written, err := store.OpenWrittenLog(cfg.writtenLog)
	if err != nil {
		return err
	}
	defer written.Close()
	logger.Info("starting generation",
		"tasks", len(tasks), "already_written", written.Count(), "workers", cfg.workers, "onnx_sessions", cfg.onnxSessions)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := broker.NewMetrics(reg)

	hub := monitor.NewHub()
	var srv *http.Server
	if cfg.monitorAddr != "" {
		go hub.Run(ctx)
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.monitorAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("monitor server stopped", "error", err)
			}
		}()
		logger.Info("monitor listening", "addr", cfg.monitorAddr)
	}

	rows := make(chan []store.TrainingRow, cfg.workers)
	writerDone := make(chan struct{})
	go func() {
		store.FlushGames(logger, cfg.outDir, cfg.gamesPerFlush, rows)
		close(writerDone)
	}()

	updates := make(chan selfplay.GameSummary, cfg.workers)
	runner := &selfplay.Runner{
		Logger:  logger,
		Written: written,
		Rows:    rows,
		Source:  "nmcts",
		Trace:   cfg.trace,
		OnGame: func(s selfplay.GameSummary) {
			if srv != nil {
				hub.PublishGame(s)
			}
			select {
			case updates <- s:
			default:
			}
		},
	}

	var uiWG sync.WaitGroup
	if cfg.tui {
		p := tea.NewProgram(initialModel(updates, runner, pool, len(tasks)), tea.WithAltScreen(), tea.WithContext(ctx))
		uiWG.Add(1)
		go func() {
			defer uiWG.Done()
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				logger.Error("tui stopped", "error", err)
			}
			// Quitting the view stops the run.
			cancel()
		}()
	} else {
		uiWG.Add(1)
		go func() {
			defer uiWG.Done()
			statsLoop(ctx, logger, runner, pool)
		}()
	}

	start := time.Now()
	runErr := broker.Run(ctx, broker.Config{
		Workers:      cfg.workers,
		BatchTimeout: cfg.batchTimeout,
		Metrics:      metrics,
		Logger:       logger,
	}, pool, tasks, runner.RunNeural)

	close(rows)
	<-writerDone
	cancel()
	uiWG.Wait()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		done()
	}

	logger.Info("generation finished",
		"games", runner.Games.Load(), "skipped", runner.Skipped.Load(), "plies", runner.Plies.Load(),
		"took", time.Since(start).Round(time.Second))
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func statsLoop(ctx context.Context, logger *slog.Logger, runner *selfplay.Runner, pool *inference.OnnxPool) {
	start := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			secs := time.Since(start).Seconds()
			st := pool.Stats()
			logger.Info("stats",
				"games", runner.Games.Load(),
				"plies_per_sec", float64(runner.Plies.Load())/secs,
				"inferences_per_sec", float64(st.TotalItems)/secs,
				"batch_avg", st.AvgBatchSize,
				"batch_last", st.LastBatchSize,
				"run_avg_ms", st.AvgRunMs,
			)
		}
	}
}
