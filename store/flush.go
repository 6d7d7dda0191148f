package store

import "log/slog"

// DefaultGamesPerFlush is used when FlushGames is given a non-positive size.
const DefaultGamesPerFlush = 50

// FlushGames buffers the rows of finished games arriving on in and writes a
// parquet batch every gamesPerFlush games, plus once more when in is closed.
// It returns the paths it wrote. A failed flush is logged and its rows are
// dropped.
func FlushGames(logger *slog.Logger, outDir string, gamesPerFlush int, in <-chan []TrainingRow) []string {
	if gamesPerFlush <= 0 {
		gamesPerFlush = DefaultGamesPerFlush
	}
	if logger == nil {
		logger = slog.Default()
	}

	var written []string
	pending := make([]TrainingRow, 0, 64*gamesPerFlush)
	pendingGames := 0
	flush := func() {
		outPath, err := WriteBatchParquetAtomic(outDir, pending)
		if err != nil {
			logger.Error("parquet flush failed", "games", pendingGames, "rows", len(pending), "error", err)
		} else {
			logger.Info("parquet flush ok", "path", outPath, "games", pendingGames, "rows", len(pending))
			written = append(written, outPath)
		}
		pending = pending[:0]
		pendingGames = 0
	}

	for rows := range in {
		if len(rows) == 0 {
			continue
		}
		pending = append(pending, rows...)
		pendingGames++
		if pendingGames >= gamesPerFlush {
			flush()
		}
	}
	if pendingGames > 0 {
		flush()
	}
	return written
}
