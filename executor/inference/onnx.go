package inference

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/uttt/executor/convert"
)

const (
	InputSize  = convert.FloatSize
	PolicySize = convert.PolicySize
	ValueSize  = 1
)

// RuntimeStats summarises the forward passes a client (or pool) has run.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	AvgBatchSize  float64
	AvgRunMs      float64
}

// OnnxClient runs the policy/value network through ONNX Runtime.
// Input is [B,4,9,9]; outputs are policy [B,9,9] and value [B,1].
type OnnxClient struct {
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex

	batches   atomic.Int64
	items     atomic.Int64
	runNanos  atomic.Int64
	lastBatch atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
				"libonnxruntime.so.1.23.2",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// One thread per session; parallelism comes from the pool.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			slog.Warn("cuda provider unavailable, using cpu", "error", err)
		} else {
			slog.Info("cuda provider enabled")
		}
	} else {
		slog.Warn("failed to create cuda options", "error", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &OnnxClient{session: session}, nil
}

// ensureLinuxLibraryPath prepends CUDA and torch library directories found in
// a local .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

func (c *OnnxClient) Close() error {
	return c.session.Destroy()
}

// EvaluateBatch runs one forward pass. The context is only checked before the
// run; ORT calls cannot be interrupted.
func (c *OnnxClient) EvaluateBatch(ctx context.Context, inputs [][]float32) ([]Prediction, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := int64(len(inputs))
	batchInput := make([]float32, 0, len(inputs)*InputSize)
	for i, in := range inputs {
		if len(in) != InputSize {
			return nil, fmt.Errorf("input %d has %d floats, want %d", i, len(in), InputSize)
		}
		batchInput = append(batchInput, in...)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(n, convert.Channels, convert.Height, convert.Width), batchInput)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, convert.Height, convert.Width))
	if err != nil {
		return nil, fmt.Errorf("policy tensor: %w", err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, ValueSize))
	if err != nil {
		return nil, fmt.Errorf("value tensor: %w", err)
	}
	defer valueTensor.Destroy()

	start := time.Now()
	c.mu.Lock()
	err = c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	c.batches.Add(1)
	c.items.Add(n)
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatch.Store(n)

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()
	out := make([]Prediction, len(inputs))
	for i := range out {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])
		out[i] = Prediction{Policy: policy, Value: valueData[i*ValueSize]}
	}
	return out, nil
}

func (c *OnnxClient) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.lastBatch.Load(),
	}
	st.fillAverages()
	return st
}

func (st *RuntimeStats) fillAverages() {
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
}
