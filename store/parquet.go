package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// TrainingRow is one ply of a generated game.
//
// State holds the 93 raw state bytes before the move. Policy is the root
// visit distribution over the 81 cells (zero for illegal cells). SearchValue
// is the root estimate for the player to move; Value is the final result from
// the same player's perspective: 1 win, 0 draw, -1 loss.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Ply         int32     `parquet:"ply"`
	State       []byte    `parquet:"state"`
	Symbol      int32     `parquet:"symbol"`
	Policy      []float32 `parquet:"policy"`
	SearchValue float32   `parquet:"search_value"`
	Value       float32   `parquet:"value"`
	Source      string    `parquet:"source,dict"`
}

var batchSeq atomic.Uint64

// WriteBatchParquetAtomic writes rows into outDir/tmp and then renames the
// file into outDir, so readers never observe a partial file.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d_%d.parquet", time.Now().UnixNano(), batchSeq.Add(1))
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", "uttt_training_row_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

func ReadTrainingRows(path string) ([]TrainingRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[TrainingRow](f)
	defer reader.Close()

	rows := make([]TrainingRow, reader.NumRows())
	total := 0
	for total < len(rows) {
		n, err := reader.Read(rows[total:])
		total += n
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet: %w", err)
		}
	}
	return rows[:total], nil
}
