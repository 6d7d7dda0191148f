package convert

import (
	"sync"

	"github.com/brensch/uttt/game"
	"github.com/brensch/uttt/rules"
)

const (
	Width      = 9
	Height     = 9
	Channels   = 4
	FloatSize  = Channels * Width * Height
	PolicySize = Width * Height
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// RowIndex maps a cell index (0..80) to its row on the 9x9 board.
func RowIndex(index int) int {
	return 3*(index/27) + (index%9)/3
}

// ColIndex maps a cell index (0..80) to its column on the 9x9 board.
func ColIndex(index int) int {
	return 3*((index/9)%3) + index%3
}

// PolicyIndex is the offset of a cell inside a flattened 9x9 policy plane.
func PolicyIndex(index int) int {
	return RowIndex(index)*Width + ColIndex(index)
}

// StateToFloat32 encodes the GameState into a pooled float32 slice suitable for ONNX input.
// Output shape: [Channels, Height, Width] (C, H, W)
// Returns a pointer to the float slice. Caller must return it to pool using PutFloatBuffer.
func StateToFloat32(state *game.GameState) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)

	// Channel layout:
	// 0: marks of the player to move
	// 1: opponent marks
	// 2: +1 everywhere when X is to move, -1 when O is
	// 3: legal move mask
	const plane = Width * Height
	me := state.NextSymbol()
	for i := 0; i < game.NumCells; i++ {
		switch state.Cell(i) {
		case game.Empty:
			continue
		case me:
			data[PolicyIndex(i)] = 1
		default:
			data[plane+PolicyIndex(i)] = 1
		}
	}

	side := float32(1)
	if me == game.O {
		side = -1
	}
	for i := 2 * plane; i < 3*plane; i++ {
		data[i] = side
	}

	for _, idx := range rules.LegalIndexes(state) {
		data[3*plane+PolicyIndex(idx)] = 1
	}

	return dataPtr
}
